package zeroconf

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	mdnsAddress     = "224.0.0.251:5353"
	readTimeout     = 250 * time.Millisecond
	maxBufSize      = 9000
	defaultInterval = time.Minute
)

// PacketConn is the subset of *net.UDPConn the browser uses.
type PacketConn interface {
	ReadFrom(b []byte) (int, net.Addr, error)
	WriteTo(b []byte, addr net.Addr) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Options configure a Browser.
type Options struct {
	Service  string
	Interval time.Duration
	Logger   logrus.FieldLogger
	// Listen opens the multicast socket. Defaults to an IPv4 mDNS listener.
	Listen func() (PacketConn, net.Addr, error)
}

// Browser queries for a service type and reports each instance when it
// first appears and whenever its address or port changes.
type Browser struct {
	service  string
	interval time.Duration
	log      logrus.FieldLogger
	listen   func() (PacketConn, net.Addr, error)

	mu   sync.Mutex
	seen map[string]string
}

func NewBrowser(opts Options) *Browser {
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	listen := opts.Listen
	if listen == nil {
		listen = listenMulticast
	}
	return &Browser{
		service:  opts.Service,
		interval: interval,
		log:      logger.WithField("service", opts.Service),
		listen:   listen,
		seen:     make(map[string]string),
	}
}

// Run browses until ctx is done, calling found for new or changed
// instances.
func (b *Browser) Run(ctx context.Context, found func(ServiceInfo)) error {
	conn, dest, err := b.listen()
	if err != nil {
		return err
	}
	defer conn.Close()

	query, err := BuildQuery(b.service)
	if err != nil {
		return err
	}

	buffer := make([]byte, maxBufSize)
	var lastQuery time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(lastQuery) >= b.interval {
			if _, err := conn.WriteTo(query, dest); err != nil {
				b.log.WithError(err).Warn("send mdns query failed")
			}
			lastQuery = time.Now()
		}

		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, _, err := conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			b.log.WithError(err).Debug("mdns read failed")
			continue
		}

		infos, err := ParseResponse(buffer[:n], b.service)
		if err != nil {
			b.log.WithError(err).Debug("ignoring malformed mdns packet")
			continue
		}
		for _, info := range infos {
			if b.changed(info) {
				b.log.WithFields(logrus.Fields{
					"instance": info.Instance,
					"address":  info.Address(),
				}).Info("discovered service")
				found(info)
			}
		}
	}
}

// Forget clears an instance so its next announcement is reported again.
func (b *Browser) Forget(instance string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.seen, strings.ToLower(instance))
}

func (b *Browser) changed(info ServiceInfo) bool {
	if info.Host == "" && len(info.Addresses) == 0 {
		return false
	}
	key := fmt.Sprintf("%s:%d", info.Address(), info.Port)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen[info.Instance] == key {
		return false
	}
	b.seen[info.Instance] = key
	return true
}

func listenMulticast() (PacketConn, net.Addr, error) {
	mcastAddr, err := net.ResolveUDPAddr("udp4", mdnsAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve mdns address: %w", err)
	}
	conn, err := net.ListenMulticastUDP("udp4", multicastInterface(), mcastAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen mdns: %w", err)
	}
	return conn, mcastAddr, nil
}

// multicastInterface prefers an up, multicast-capable, non-loopback
// interface with an IPv4 address. nil lets the kernel choose.
func multicastInterface() *net.Interface {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range interfaces {
		iface := &interfaces[i]
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
				return iface
			}
		}
	}
	return nil
}
