package discovery

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/edup2p/nearby/types/key"
	"github.com/edup2p/nearby/types/peer"
	"golang.org/x/net/dns/dnsmessage"
)

// Announcements are unsolicited mDNS responses:
//
//	PTR _<tag>._tcp.local.          -> <id>._<tag>._tcp.local.
//	SRV <id>._<tag>._tcp.local.     -> port of the invitation listener
//	TXT <id>._<tag>._tcp.local.     -> v=1 id=<id> sess=<session key>
//
// A TTL of zero is a goodbye.

const (
	announceTTL = 120

	txtVersion = "v=1"
	txtID      = "id="
	txtSession = "sess="

	// unicast-response / cache-flush bit in the class field
	bit15 = 1 << 15
)

type announcement struct {
	ID      peer.ID
	Port    uint16
	Session key.SessionPublic
	TTL     uint32
}

func (a announcement) isGoodbye() bool {
	return a.TTL == 0
}

func serviceName(tag string) string {
	return "_" + tag + "._tcp.local."
}

func instanceName(id peer.ID, tag string) string {
	return string(id) + "." + serviceName(tag)
}

// ValidServiceTag checks whether tag can be used as a DNS-SD service type.
func ValidServiceTag(tag string) error {
	if tag == "" {
		return errors.New("empty service tag")
	}
	if len(tag) > 15 {
		return fmt.Errorf("service tag %q longer than 15 characters", tag)
	}
	for _, c := range tag {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
			return fmt.Errorf("service tag %q contains %q", tag, c)
		}
	}
	return nil
}

func buildAnnouncement(tag string, a announcement) ([]byte, error) {
	svc, err := dnsmessage.NewName(serviceName(tag))
	if err != nil {
		return nil, fmt.Errorf("failed to make service name: %w", err)
	}

	inst, err := dnsmessage.NewName(instanceName(a.ID, tag))
	if err != nil {
		return nil, fmt.Errorf("failed to make instance name: %w", err)
	}

	msg := dnsmessage.Message{
		Header: dnsmessage.Header{Response: true, Authoritative: true},
		Answers: []dnsmessage.Resource{
			{
				Header: dnsmessage.ResourceHeader{Name: svc, Type: dnsmessage.TypePTR, Class: dnsmessage.ClassINET, TTL: a.TTL},
				Body:   &dnsmessage.PTRResource{PTR: inst},
			},
		},
		Additionals: []dnsmessage.Resource{
			{
				Header: dnsmessage.ResourceHeader{Name: inst, Type: dnsmessage.TypeSRV, Class: dnsmessage.ClassINET | bit15, TTL: a.TTL},
				Body:   &dnsmessage.SRVResource{Port: a.Port, Target: inst},
			},
			{
				Header: dnsmessage.ResourceHeader{Name: inst, Type: dnsmessage.TypeTXT, Class: dnsmessage.ClassINET | bit15, TTL: a.TTL},
				Body: &dnsmessage.TXTResource{TXT: []string{
					txtVersion,
					txtID + string(a.ID),
					txtSession + a.Session.String(),
				}},
			},
		},
	}

	return msg.Pack()
}

func buildQuery(tag string) ([]byte, error) {
	svc, err := dnsmessage.NewName(serviceName(tag))
	if err != nil {
		return nil, fmt.Errorf("failed to make service name: %w", err)
	}

	msg := dnsmessage.Message{
		Questions: []dnsmessage.Question{{
			Name:  svc,
			Type:  dnsmessage.TypePTR,
			Class: dnsmessage.ClassINET,
		}},
	}

	return msg.Pack()
}

// isQueryFor reports whether pkt is an mDNS query asking for the tag's service.
func isQueryFor(tag string, pkt []byte) bool {
	var msg dnsmessage.Message
	if err := msg.Unpack(pkt); err != nil || msg.Header.Response {
		return false
	}

	svc := serviceName(tag)

	for _, q := range msg.Questions {
		if (q.Type == dnsmessage.TypePTR || q.Type == dnsmessage.TypeALL) && strings.EqualFold(q.Name.String(), svc) {
			return true
		}
	}

	return false
}

// parseAnnouncements extracts the announcements for tag out of an mDNS response.
//
// Records for other services are ignored, as are instances missing their SRV or TXT.
func parseAnnouncements(tag string, pkt []byte) ([]announcement, error) {
	var msg dnsmessage.Message
	if err := msg.Unpack(pkt); err != nil {
		return nil, fmt.Errorf("could not unpack mdns packet: %w", err)
	}

	if !msg.Header.Response {
		return nil, nil
	}

	svc := serviceName(tag)

	type partial struct {
		srv *dnsmessage.SRVResource
		txt *dnsmessage.TXTResource
		ttl uint32
	}

	var order []string
	instances := make(map[string]*partial)

	get := func(name string) *partial {
		name = strings.ToLower(name)
		p, ok := instances[name]
		if !ok {
			p = &partial{ttl: announceTTL}
			instances[name] = p
			order = append(order, name)
		}
		return p
	}

	records := append(append([]dnsmessage.Resource{}, msg.Answers...), msg.Additionals...)

	for _, rr := range records {
		name := rr.Header.Name.String()

		switch body := rr.Body.(type) {
		case *dnsmessage.PTRResource:
			if !strings.EqualFold(name, svc) {
				continue
			}
			p := get(body.PTR.String())
			p.ttl = min(p.ttl, rr.Header.TTL)
		case *dnsmessage.SRVResource:
			if !hasSuffixFold(name, "."+svc) {
				continue
			}
			p := get(name)
			p.srv = body
			p.ttl = min(p.ttl, rr.Header.TTL)
		case *dnsmessage.TXTResource:
			if !hasSuffixFold(name, "."+svc) {
				continue
			}
			p := get(name)
			p.txt = body
			p.ttl = min(p.ttl, rr.Header.TTL)
		}
	}

	var anns []announcement

	for _, name := range order {
		p := instances[name]
		if p.srv == nil || p.txt == nil {
			continue
		}

		a, err := parseTXT(p.txt.TXT)
		if err != nil {
			// one bad instance does not spoil the others in the packet
			slog.Debug("discovery: skipping malformed announcement", "instance", name, "err", err)
			continue
		}

		a.Port = p.srv.Port
		a.TTL = p.ttl
		anns = append(anns, a)
	}

	return anns, nil
}

func parseTXT(txt []string) (announcement, error) {
	var a announcement
	var haveVersion bool

	for _, kv := range txt {
		switch {
		case kv == txtVersion:
			haveVersion = true
		case strings.HasPrefix(kv, txtID):
			id, err := peer.ParseID(strings.TrimPrefix(kv, txtID))
			if err != nil {
				return a, err
			}
			a.ID = id
		case strings.HasPrefix(kv, txtSession):
			sess, err := key.ParseSessionPublic(strings.TrimPrefix(kv, txtSession))
			if err != nil {
				return a, err
			}
			a.Session = sess
		}
	}

	if !haveVersion {
		return a, errors.New("missing or unsupported version")
	}
	if a.ID.IsZero() {
		return a, errors.New("missing id")
	}
	if a.Session.IsZero() {
		return a, errors.New("missing session key")
	}

	return a, nil
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}

// Describe renders an announcement packet for logging and the monitor tool.
func Describe(tag string, pkt []byte) ([]string, error) {
	anns, err := parseAnnouncements(tag, pkt)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(anns))
	for _, a := range anns {
		out = append(out, "id="+string(a.ID)+" port="+strconv.Itoa(int(a.Port))+" ttl="+strconv.Itoa(int(a.TTL))+" sess="+a.Session.Debug())
	}

	return out, nil
}
