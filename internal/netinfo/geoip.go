package netinfo

import (
	"errors"
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// GeoIP reads a MaxMind-format database. City, Country and ASN editions
// all work; fields missing from the edition stay empty.
type GeoIP struct {
	reader *maxminddb.Reader
}

type GeoRecord struct {
	Country string
	City    string
	ASN     uint
	ASOrg   string
}

type mmdbRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	ASN   uint   `maxminddb:"autonomous_system_number"`
	ASOrg string `maxminddb:"autonomous_system_organization"`
}

func OpenGeoIP(path string) (*GeoIP, error) {
	if path == "" {
		return nil, errors.New("geoip database path is empty")
	}
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &GeoIP{reader: reader}, nil
}

func (g *GeoIP) Lookup(ip net.IP) (GeoRecord, error) {
	var rec mmdbRecord
	if err := g.reader.Lookup(ip, &rec); err != nil {
		return GeoRecord{}, err
	}
	return GeoRecord{
		Country: rec.Country.ISOCode,
		City:    rec.City.Names["en"],
		ASN:     rec.ASN,
		ASOrg:   rec.ASOrg,
	}, nil
}

func (g *GeoIP) Close() error {
	if g == nil || g.reader == nil {
		return nil
	}
	return g.reader.Close()
}
