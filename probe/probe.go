// Package probe checks whether configured services are accepting TCP connections.
package probe

import (
	"context"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/guseggert/cmdhub/config"
	"github.com/guseggert/cmdhub/registry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Result bool

const (
	Closed Result = false
	Open   Result = true
)

func (r Result) String() string {
	if r {
		return "OPEN"
	}
	return "CLOSED"
}

// Probe dials host:port and reports whether the connection was accepted before timeout.
// Every failure, including ctx cancellation, is reported as Closed.
func Probe(ctx context.Context, host string, port string, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return Closed
	}
	conn.Close()
	return Open
}

// Service describes one service whose port is watched. Port is both the key in the services file
// and the port used outside production.
type Service struct {
	Port     string `yaml:"-" json:"-"`
	ProdPort *int   `yaml:"prodPort,omitempty" json:"prodPort,omitempty"`
	Name     string `yaml:"name" json:"name"`
	Icon     string `yaml:"icon,omitempty" json:"icon,omitempty"`
	PM2Name  string `yaml:"pm2Name,omitempty" json:"pm2Name,omitempty"`
}

// EffectivePort is ProdPort in production when it is set, otherwise Port.
func (s Service) EffectivePort(mode config.Mode) string {
	if mode == config.Production && s.ProdPort != nil {
		return strconv.Itoa(*s.ProdPort)
	}
	return s.Port
}

// Status is the computed state of a Service.
type Status struct {
	Port          string `json:"port"`
	Name          string `json:"name"`
	Icon          string `json:"icon"`
	PM2Name       string `json:"pm2Name,omitempty"`
	IsOpen        bool   `json:"isOpen"`
	IsProcessLive bool   `json:"isProcessLive"`
	URL           string `json:"url"`
}

type Prober struct {
	Log     *zap.SugaredLogger
	Host    string
	Mode    config.Mode
	Timeout time.Duration
}

func NewProber(log *zap.SugaredLogger, cfg config.Config) *Prober {
	return &Prober{
		Log:     log.Named("prober"),
		Host:    cfg.Host,
		Mode:    cfg.Mode,
		Timeout: cfg.EffectiveProbeTimeout(),
	}
}

// ProbeAll probes every service concurrently and matches each against procs by PM2Name.
// Results are in the same order as services.
func (p *Prober) ProbeAll(ctx context.Context, services []Service, procs []registry.Process) []Status {
	statuses := make([]Status, len(services))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, svc := range services {
		i, svc := i, svc
		port := svc.EffectivePort(p.Mode)
		statuses[i] = Status{
			Port:          port,
			Name:          svc.Name,
			Icon:          svc.Icon,
			PM2Name:       svc.PM2Name,
			IsProcessLive: processLive(svc.PM2Name, procs),
			URL:           "http://" + net.JoinHostPort(p.Host, port),
		}
		group.Go(func() error {
			res := Probe(groupCtx, p.Host, port, p.Timeout)
			p.Log.Debugw("probed service", "Service", svc.Name, "Port", port, "Result", res)
			statuses[i].IsOpen = bool(res)
			return nil
		})
	}
	_ = group.Wait()
	return statuses
}

func processLive(pm2Name string, procs []registry.Process) bool {
	if pm2Name == "" {
		return false
	}
	for _, proc := range procs {
		if strings.EqualFold(proc.Name, pm2Name) && proc.Online() {
			return true
		}
	}
	return false
}

// SortServices orders services by numeric default port, falling back to string order.
func SortServices(services []Service) {
	sort.SliceStable(services, func(i, j int) bool {
		a, aErr := strconv.Atoi(services[i].Port)
		b, bErr := strconv.Atoi(services[j].Port)
		if aErr == nil && bErr == nil {
			return a < b
		}
		return services[i].Port < services[j].Port
	})
}
