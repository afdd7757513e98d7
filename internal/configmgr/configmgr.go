// Package configmgr defines the AdGuard DHCP on-disk configuration entities and
// configuration manager.
package configmgr

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/AdguardTeam/AdGuardDHCP/internal/binding"
	"github.com/AdguardTeam/AdGuardDHCP/internal/ddns"
	"github.com/AdguardTeam/AdGuardDHCP/internal/dhcpsvc"
	"github.com/AdguardTeam/AdGuardDHCP/internal/ippool"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease/boltdb"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease/jsonfile"
	"github.com/AdguardTeam/AdGuardDHCP/internal/lease/sqlitedb"
	"github.com/AdguardTeam/AdGuardDHCP/internal/metrics"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"
)

// Manager assembles the services from the configuration file.  A new manager
// should be created to apply the changes of the file.
type Manager struct {
	// baseLogger is used to create loggers for other entities.
	baseLogger *slog.Logger

	// logger is used for logging the operation of the configuration manager.
	logger *slog.Logger

	store      lease.Store
	dhcp       *dhcpsvc.Server
	dispatcher *ddns.Dispatcher
	metricsSrv service.Interface
	registry   *prometheus.Registry

	// ifaceByName looks up the network interfaces for the server DUID.
	ifaceByName interfaceFunc
}

// Validate returns an error if the configuration file with the given name does
// not exist or is invalid.
func Validate(fileName string) (err error) {
	conf, err := read(fileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	err = conf.Validate()
	if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	return nil
}

// Config contains the configuration parameters for the configuration manager.
type Config struct {
	// BaseLogger is used to create loggers for other entities.  It must not be
	// nil.
	BaseLogger *slog.Logger

	// Logger is used for logging the operation of the configuration manager.
	// It must not be nil.
	Logger *slog.Logger

	// InterfaceByName looks up the network interface for the link-layer
	// server DUIDs.  If nil, [net.InterfaceByName] is used.
	InterfaceByName func(name string) (iface *net.Interface, err error)

	// FileName is the path to the configuration file.
	FileName string
}

// New creates a new *Manager from the file pointed to by c.FileName.  It reads
// the configuration file and assembles the services.  c must not be nil.
func New(ctx context.Context, c *Config) (m *Manager, err error) {
	conf, err := read(c.FileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	err = conf.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	m = &Manager{
		baseLogger:  c.BaseLogger,
		logger:      c.Logger,
		ifaceByName: c.InterfaceByName,
	}

	if m.ifaceByName == nil {
		m.ifaceByName = net.InterfaceByName
	}

	err = m.assemble(ctx, conf)
	if err != nil {
		if m.store != nil {
			err = errors.WithDeferred(err, m.store.Close())
		}

		return nil, fmt.Errorf("creating config manager: %w", err)
	}

	return m, nil
}

// read reads and decodes configuration from the provided filename.
func read(fileName string) (conf *config, err error) {
	defer func() { err = errors.Annotate(err, "reading config: %w") }()

	conf = &config{}
	f, err := os.Open(fileName)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	err = dec.Decode(conf)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return conf, nil
}

// assemble creates all services and puts them into the corresponding fields.
// The fields of conf must not be modified after calling assemble.  The store
// is set as soon as it's opened, so the caller must close it on errors.
func (m *Manager) assemble(ctx context.Context, conf *config) (err error) {
	store, err := m.openStore(ctx, conf.Store)
	if err != nil {
		return fmt.Errorf("opening lease store: %w", err)
	}

	m.store = store

	policy, err := conf.Policies.apply(binding.DefaultPolicy())
	if err != nil {
		return fmt.Errorf("policies: %w", err)
	}

	links, pools, err := m.newLinks(conf, policy)
	if err != nil {
		return fmt.Errorf("assembling links: %w", err)
	}

	err = m.reconcile(ctx, links, pools)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	bindingLinks := make([]*binding.Link, 0, len(links))
	for _, l := range links {
		bindingLinks = append(bindingLinks, l.Link)
	}

	bindings := binding.New(&binding.Config{
		Logger: m.baseLogger.With(slogutil.KeyPrefix, "binding"),
		Store:  m.store,
		Clock:  timeutil.SystemClock{},
		Policy: policy,
		Links:  bindingLinks,
	})

	m.registry = prometheus.NewRegistry()
	mtrc, err := metrics.NewDHCP(metrics.Namespace, m.registry)
	if err != nil {
		return fmt.Errorf("assembling metrics: %w", err)
	}

	dhcpConf, err := m.newDHCPConfig(conf, bindings, mtrc, links)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	m.dhcp, err = dhcpsvc.New(dhcpConf)
	if err != nil {
		return fmt.Errorf("assembling dhcpsvc: %w", err)
	}

	m.metricsSrv = m.newMetricsServer(conf.HTTP)

	return nil
}

// openStore opens the lease store described by c.
func (m *Manager) openStore(ctx context.Context, c *storeConfig) (s lease.Store, err error) {
	logger := m.baseLogger.With(slogutil.KeyPrefix, "store")

	m.logger.DebugContext(ctx, "opening lease store", "type", c.Type, "path", c.Path)

	switch c.Type {
	case storeTypeJSON:
		return jsonfile.New(ctx, &jsonfile.Config{
			Logger: logger,
			Path:   c.Path,
		})
	case storeTypeBolt:
		return boltdb.New(ctx, &boltdb.Config{
			Logger: logger,
			Path:   c.Path,
		})
	case storeTypeSQLite:
		return sqlitedb.New(ctx, &sqlitedb.Config{
			Logger: logger,
			Path:   c.Path,
		})
	default:
		return lease.NewMemory(), nil
	}
}

// reconcile removes the leases outside of the pools and static bindings of
// links from the store.
func (m *Manager) reconcile(ctx context.Context, links []*dhcpsvc.Link, pools []*ippool.Pool) (err error) {
	var extra []lease.Range
	for _, l := range links {
		extra = append(extra, l.StaticRanges()...)
	}

	_, err = ippool.Reconcile(ctx, m.baseLogger.With(slogutil.KeyPrefix, "ippool"), m.store, pools, extra)

	return err
}

// newDHCPConfig returns the configuration of the DHCP service.
func (m *Manager) newDHCPConfig(
	conf *config,
	bindings *binding.Manager,
	mtrc dhcpsvc.Metrics,
	links []*dhcpsvc.Link,
) (c *dhcpsvc.Config, err error) {
	decodePolicy, err := parseDecodePolicy(conf.Server.DecodePolicy)
	if err != nil {
		// Shouldn't happen, since the configuration is validated.
		panic(err)
	}

	c = &dhcpsvc.Config{
		Logger:         m.baseLogger.With(slogutil.KeyPrefix, "dhcpsvc"),
		Bindings:       bindings,
		Metrics:        mtrc,
		DomainName:     conf.Server.DomainName,
		Links:          links,
		RequestTimeout: conf.Server.RequestTimeout.Duration,
		Workers:        conf.Server.Workers,
		QueueSize:      conf.Server.QueueSize,
		RapidCommit:    conf.Server.RapidCommit,
	}

	if conf.V6 != nil {
		c.V6, err = m.newV6Config(conf, decodePolicy)
		if err != nil {
			return nil, fmt.Errorf("assembling dhcpv6: %w", err)
		}
	}

	if conf.V4 != nil {
		c.V4, err = newV4Config(conf, decodePolicy)
		if err != nil {
			return nil, fmt.Errorf("assembling dhcpv4: %w", err)
		}
	}

	if conf.DDNS != nil && conf.DDNS.Enabled {
		m.dispatcher, err = m.newDispatcher(conf.DDNS)
		if err != nil {
			return nil, fmt.Errorf("assembling ddns: %w", err)
		}

		c.DDNS = m.dispatcher
	}

	return c, nil
}

// newDispatcher returns the dispatcher of the dynamic DNS updates described by
// c.
func (m *Manager) newDispatcher(c *ddnsConfig) (d *ddns.Dispatcher, err error) {
	logger := m.baseLogger.With(slogutil.KeyPrefix, "ddns")
	updConf := &ddns.Config{
		Logger:        logger,
		Server:        c.Server,
		Network:       c.Network,
		ForwardZone:   c.ForwardZone,
		Timeout:       c.Timeout.Duration,
		TTL:           c.TTL,
		ReverseV4Bits: c.ReverseV4Bits,
		ReverseV6Bits: c.ReverseV6Bits,
	}

	if c.TSIG != nil {
		updConf.TSIG = &ddns.TSIG{
			Name:      c.TSIG.Name,
			Algorithm: c.TSIG.Algorithm,
			Secret:    c.TSIG.Secret,
		}
	}

	err = updConf.Validate()
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}

	return ddns.NewDispatcher(&ddns.DispatcherConfig{
		Logger:  logger,
		Sender:  ddns.New(updConf),
		Timeout: c.Timeout.Duration,
		Sync:    c.Sync,
	}), nil
}

// newMetricsServer returns the HTTP server exposing the metrics or an empty
// service if it's disabled.
func (m *Manager) newMetricsServer(c *httpConfig) (srv service.Interface) {
	if c == nil || !c.Enabled {
		return service.Empty{}
	}

	return metrics.NewServer(&metrics.ServerConfig{
		Logger:   m.baseLogger.With(slogutil.KeyPrefix, "metrics"),
		Gatherer: m.registry,
		Addr:     c.Address,
	})
}

// DHCP returns the DHCP service.
func (m *Manager) DHCP() (svc dhcpsvc.Interface) {
	return m.dhcp
}

// Metrics returns the HTTP service exposing the metrics.  It does nothing if
// the HTTP server is disabled.
func (m *Manager) Metrics() (svc service.Interface) {
	return m.metricsSrv
}

// Close waits for the pending dynamic DNS updates and closes the lease store.
// The services must be shut down before calling Close.
func (m *Manager) Close(ctx context.Context) (err error) {
	var errs []error
	if m.dispatcher != nil {
		err = m.dispatcher.Wait(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("waiting for ddns updates: %w", err))
		}
	}

	err = m.store.Close()
	if err != nil {
		errs = append(errs, fmt.Errorf("closing lease store: %w", err))
	}

	return errors.Join(errs...)
}
