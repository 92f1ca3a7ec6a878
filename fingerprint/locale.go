package fingerprint

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/oschwald/geoip2-golang/v2"
	"golang.org/x/text/language"

	"github.com/firasghr/GoPersonaEngine/failure"
)

// Geo is the locale context an identity is synthesized for.
type Geo struct {
	Country       string   `json:"country"`
	Timezone      string   `json:"timezone"`
	OffsetMinutes int      `json:"offset_minutes"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	Languages     []string `json:"languages"`
	Domain        string   `json:"domain"`
}

// LocaleSource yields the Geo of the current session.
type LocaleSource interface {
	Locale(ctx context.Context) (Geo, error)
}

// StaticLocale returns a fixed Geo, typically built from configuration.
type StaticLocale Geo

// Locale implements LocaleSource.
func (s StaticLocale) Locale(context.Context) (Geo, error) {
	g := Geo(s)
	g.Languages = append([]string(nil), s.Languages...)
	return g, nil
}

type zoneLocale struct {
	lang   string
	domain string
}

var zoneTable = map[string]zoneLocale{
	"America/New_York":    {"en-US", "com"},
	"America/Los_Angeles": {"en-US", "com"},
	"America/Sao_Paulo":   {"pt-BR", "com.br"},
	"Europe/London":       {"en-GB", "co.uk"},
	"Europe/Paris":        {"fr-FR", "fr"},
	"Europe/Berlin":       {"de-DE", "de"},
	"Europe/Vienna":       {"de-AT", "at"},
	"Europe/Zurich":       {"de-CH", "ch"},
	"Europe/Brussels":     {"fr-BE", "be"},
	"Europe/Luxembourg":   {"fr-LU", "lu"},
	"Europe/Madrid":       {"es-ES", "es"},
	"Europe/Rome":         {"it-IT", "it"},
	"Europe/Amsterdam":    {"nl-NL", "nl"},
	"Europe/Copenhagen":   {"da-DK", "dk"},
	"Europe/Prague":       {"cs-CZ", "cz"},
	"Europe/Budapest":     {"hu-HU", "hu"},
	"Europe/Warsaw":       {"pl-PL", "pl"},
	"Europe/Stockholm":    {"sv-SE", "se"},
	"Europe/Lisbon":       {"pt-PT", "pt"},
	"Europe/Tallinn":      {"et-EE", "ee"},
	"Europe/Riga":         {"lv-LV", "lv"},
	"Europe/Vilnius":      {"lt-LT", "lt"},
	"Europe/Athens":       {"el-GR", "gr"},
	"Europe/Belgrade":     {"sr-RS", "rs"},
	"Europe/Bratislava":   {"sk-SK", "sk"},
	"Europe/Ljubljana":    {"sl-SI", "si"},
	"Europe/Bucharest":    {"ro-RO", "ro"},
	"Europe/Malta":        {"en-MT", "com.mt"},
	"Europe/Helsinki":     {"fi-FI", "fi"},
	"Europe/Oslo":         {"no-NO", "no"},
	"Europe/Sofia":        {"bg-BG", "bg"},
	"Europe/Dublin":       {"en-IE", "ie"},
	"Europe/Tirane":       {"sq-AL", "al"},
	"Europe/Zagreb":       {"hr-HR", "hr"},
	"Europe/Nicosia":      {"el-CY", "com.cy"},
	"Asia/Nicosia":        {"el-CY", "com.cy"},
	"Asia/Tokyo":          {"ja-JP", "co.jp"},
	"Asia/Hong_Kong":      {"zh-HK", "com.hk"},
	"Asia/Seoul":          {"ko-KR", "co.kr"},
	"Asia/Shanghai":       {"zh-CN", "com"},
	"Asia/Bangkok":        {"th-TH", "co.th"},
	"Atlantic/Reykjavik":  {"is-IS", "is"},
	"Africa/Johannesburg": {"en-ZA", "co.za"},
	"Australia/Sydney":    {"en-AU", "com.au"},
	"America/Toronto":     {"en-CA", "ca"},
	"America/Vancouver":   {"en-CA", "ca"},
	"America/Edmonton":    {"en-CA", "ca"},
	"America/Montreal":    {"fr-CA", "ca"},
}

var defaultZoneLocale = zoneLocale{"en-GB", "com"}

// ForTimezone returns the Geo implied by an IANA zone name at time now.
// Unknown zones get English (GB) and the "com" domain; zones the runtime
// cannot load get a zero offset.
func ForTimezone(tz string, now time.Time) Geo {
	zl, ok := zoneTable[tz]
	if !ok {
		zl = defaultZoneLocale
	}
	g := Geo{
		Timezone:  tz,
		Languages: []string{zl.lang},
		Domain:    zl.domain,
	}
	if ok {
		if _, region, found := strings.Cut(zl.lang, "-"); found {
			g.Country = region
		}
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		_, off := now.In(loc).Zone()
		g.OffsetMinutes = off / 60
	}
	return g
}

// zoneForCountry returns the first zone, by name, whose language carries
// the ISO region cc.
func zoneForCountry(cc string) (string, bool) {
	best := ""
	for tz, zl := range zoneTable {
		if strings.HasSuffix(zl.lang, "-"+cc) && (best == "" || tz < best) {
			best = tz
		}
	}
	return best, best != ""
}

// GeoIPLocale resolves the exit IP of the session against a MaxMind City
// database.  Coordinates come from the fallback Geo.
type GeoIPLocale struct {
	db       *geoip2.Reader
	ip       netip.Addr
	fallback Geo
	now      func() time.Time
}

// OpenGeoIP opens the database at path for exit address ip.
func OpenGeoIP(path, ip string, fallback Geo) (*GeoIPLocale, error) {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: exit ip %q: %w", ip, err)
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fingerprint: open geoip %q: %w", path, err)
	}
	return &GeoIPLocale{db: db, ip: addr, fallback: fallback, now: time.Now}, nil
}

// Locale implements LocaleSource.  The database's ISO country takes
// priority over the one implied by the time zone.
func (g *GeoIPLocale) Locale(ctx context.Context) (Geo, error) {
	if err := ctx.Err(); err != nil {
		return Geo{}, err
	}
	record, err := g.db.City(g.ip)
	if err != nil {
		return Geo{}, failure.Fatalf("fingerprint: geoip lookup %s: %v", g.ip, err)
	}

	tz := record.Location.TimeZone
	cc := strings.ToUpper(record.Country.ISOCode)
	var geo Geo
	switch {
	case tz != "":
		geo = ForTimezone(tz, g.now())
	case cc != "":
		if zone, ok := zoneForCountry(cc); ok {
			geo = ForTimezone(zone, g.now())
		} else {
			geo = ForTimezone(g.fallback.Timezone, g.now())
		}
	default:
		geo = ForTimezone(g.fallback.Timezone, g.now())
	}
	if cc != "" {
		geo.Country = cc
	}
	if geo.Country == "" {
		geo.Country = "UNKNOWN"
	}
	geo.Latitude, geo.Longitude = g.fallback.Latitude, g.fallback.Longitude
	return geo, nil
}

// Close releases the database.
func (g *GeoIPLocale) Close() error { return g.db.Close() }

// ─── Language lists ───────────────────────────────────────────────────────────

// NormalizeLanguages canonicalizes tags and expands them into the ordered
// navigator.languages list: the primary tag, its base language, each further
// tag followed by its base when that base differs from the primary's, then
// English fallbacks.  Unparseable tags are dropped.  It returns the primary
// tag and the list.
func NormalizeLanguages(tags []string) (string, []string) {
	var canon []string
	for _, t := range tags {
		tag, err := language.Raw.Parse(strings.TrimSpace(strings.ReplaceAll(t, "_", "-")))
		if err != nil {
			continue
		}
		canon = append(canon, tag.String())
	}
	if len(canon) == 0 {
		return "en-GB", []string{"en-GB", "en"}
	}

	var out []string
	seen := make(map[string]bool)
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	primary := canon[0]
	primaryBase := baseOf(primary)
	add(primary)
	if strings.Contains(primary, "-") {
		add(primaryBase)
	}
	for _, t := range canon[1:] {
		add(t)
		if b := baseOf(t); strings.Contains(t, "-") && b != primaryBase {
			add(b)
		}
	}
	if !seen["en"] {
		add("en-GB")
		add("en")
	} else if !seen["en-GB"] {
		add("en-GB")
	}
	return primary, out
}

func baseOf(tag string) string {
	b, _, _ := strings.Cut(tag, "-")
	return b
}

// AcceptLanguage renders langs as an Accept-Language value: the first tag
// bare, then q-values decreasing by 0.1 until they would drop below 0.1.
func AcceptLanguage(langs []string) string {
	if len(langs) == 0 {
		return ""
	}
	parts := []string{langs[0]}
	for i := 1; i < len(langs); i++ {
		q := 1.0 - 0.1*float64(i)
		if q < 0.1-1e-9 {
			break
		}
		parts = append(parts, fmt.Sprintf("%s;q=%.1f", langs[i], q))
	}
	return strings.Join(parts, ",")
}
