package zeroconf

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"golang.org/x/net/dns/dnsmessage"
)

// ServiceInfo is one resolved service instance.
type ServiceInfo struct {
	Instance   string            `json:"instance"`
	Name       string            `json:"name"`
	Host       string            `json:"host"`
	Port       int               `json:"port"`
	Addresses  []string          `json:"addresses"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Address returns the first IPv4 address, falling back to any address and
// then to the host name without its trailing dot.
func (s ServiceInfo) Address() string {
	for _, addr := range s.Addresses {
		if ip := net.ParseIP(addr); ip != nil && ip.To4() != nil {
			return addr
		}
	}
	if len(s.Addresses) > 0 {
		return s.Addresses[0]
	}
	return strings.TrimSuffix(s.Host, ".")
}

// BuildQuery packs a PTR question for service, e.g. "_fppd._udp.local.".
func BuildQuery(service string) ([]byte, error) {
	name, err := dnsmessage.NewName(fqdn(service))
	if err != nil {
		return nil, fmt.Errorf("invalid service name %q: %w", service, err)
	}
	msg := dnsmessage.Message{
		Questions: []dnsmessage.Question{{
			Name:  name,
			Type:  dnsmessage.TypePTR,
			Class: dnsmessage.ClassINET,
		}},
	}
	packed, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("pack mdns query: %w", err)
	}
	return packed, nil
}

type srvRecord struct {
	target string
	port   int
}

// ParseResponse extracts instances of service from an mDNS packet. Answers
// and additional records are treated alike since responders split them
// differently.
func ParseResponse(data []byte, service string) ([]ServiceInfo, error) {
	var msg dnsmessage.Message
	if err := msg.Unpack(data); err != nil {
		return nil, fmt.Errorf("unpack mdns message: %w", err)
	}
	if !msg.Header.Response {
		return nil, nil
	}

	service = strings.ToLower(fqdn(service))
	instances := make(map[string]string)
	srv := make(map[string]srvRecord)
	txt := make(map[string]map[string]string)
	addrs := make(map[string][]string)

	records := make([]dnsmessage.Resource, 0, len(msg.Answers)+len(msg.Additionals))
	records = append(records, msg.Answers...)
	records = append(records, msg.Additionals...)

	for _, rr := range records {
		name := strings.ToLower(rr.Header.Name.String())
		switch body := rr.Body.(type) {
		case *dnsmessage.PTRResource:
			if name == service {
				instances[strings.ToLower(body.PTR.String())] = body.PTR.String()
			}
		case *dnsmessage.SRVResource:
			srv[name] = srvRecord{target: strings.ToLower(body.Target.String()), port: int(body.Port)}
			if _, ok := instances[name]; !ok && strings.HasSuffix(name, "."+service) {
				instances[name] = rr.Header.Name.String()
			}
		case *dnsmessage.TXTResource:
			txt[name] = parseTXT(body.TXT)
		case *dnsmessage.AResource:
			addrs[name] = appendUnique(addrs[name], net.IP(body.A[:]).String())
		case *dnsmessage.AAAAResource:
			addrs[name] = appendUnique(addrs[name], net.IP(body.AAAA[:]).String())
		}
	}

	out := make([]ServiceInfo, 0, len(instances))
	for instance, original := range instances {
		info := ServiceInfo{
			Instance:   instance,
			Name:       instanceLabel(original, service),
			Properties: txt[instance],
		}
		if rec, ok := srv[instance]; ok {
			info.Host = rec.target
			info.Port = rec.port
			info.Addresses = addrs[rec.target]
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

func parseTXT(entries []string) map[string]string {
	props := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry == "" {
			continue
		}
		key, value, _ := strings.Cut(entry, "=")
		props[strings.ToLower(key)] = value
	}
	return props
}

func instanceLabel(instance, service string) string {
	label := instance
	if len(instance) > len(service)+1 && strings.EqualFold(instance[len(instance)-len(service):], service) {
		label = instance[:len(instance)-len(service)-1]
	}
	return strings.ReplaceAll(label, `\ `, " ")
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}

func fqdn(name string) string {
	if strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}
