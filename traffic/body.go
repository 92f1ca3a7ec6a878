package traffic

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/net/html"
)

// Inspection limits.  Only a prefix of the decoded body is ever examined.
const (
	maxRawPeek     = 1 << 20
	inspectLimit   = 4096
	alertScanLimit = 1000
	alertBodyLimit = 300
)

// peekBody reads up to maxRawPeek bytes of resp.Body and restores the body so
// the client still receives the original encoded stream.  It returns the
// decoded prefix of at most inspectLimit bytes.
func peekBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil || resp.Body == http.NoBody {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxRawPeek))
	rest := resp.Body
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), rest), rest}
	if err != nil {
		return nil, err
	}
	return Decode(resp.Header.Get("Content-Encoding"), raw, inspectLimit)
}

// Decode returns up to limit bytes of raw decoded according to the
// Content-Encoding value enc.  Truncated input yields whatever decoded
// cleanly.  Unknown codings are returned as-is.
func Decode(enc string, raw []byte, limit int) ([]byte, error) {
	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "", "identity":
		if len(raw) > limit {
			raw = raw[:limit]
		}
		return raw, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case "deflate":
		// zlib framing per RFC 9110; some servers send raw DEFLATE instead.
		if zr, err := zlib.NewReader(bytes.NewReader(raw)); err == nil {
			defer zr.Close()
			r = zr
		} else {
			fr := flate.NewReader(bytes.NewReader(raw))
			defer fr.Close()
			r = fr
		}
	case "br":
		r = brotli.NewReader(bytes.NewReader(raw))
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	default:
		if len(raw) > limit {
			raw = raw[:limit]
		}
		return raw, nil
	}
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)))
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return out, err
	}
	return out, nil
}

// challengeMarkup reports whether body contains a vendor challenge page:
// a challenge form action, a challenge script or a challenge container.
func challengeMarkup(body []byte) bool {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			t := z.Token()
			for _, a := range t.Attr {
				v := strings.ToLower(a.Val)
				switch {
				case (a.Key == "action" || a.Key == "src") && strings.Contains(v, "/cdn-cgi/challenge"):
					return true
				case a.Key == "id" && (v == "challenge-form" || v == "challenge-running" || v == "cf-challenge-running"):
					return true
				case a.Key == "class" && strings.Contains(v, "g-recaptcha"), a.Key == "class" && strings.Contains(v, "h-captcha"):
					return true
				case a.Key == "src" && strings.Contains(v, "captcha-delivery.com"):
					return true
				}
			}
		}
	}
}

// trimmedPrefix returns body without leading ASCII whitespace.
func trimmedPrefix(body []byte) []byte {
	return bytes.TrimLeft(body, " \t\r\n")
}
