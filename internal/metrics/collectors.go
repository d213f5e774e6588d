package metrics

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/majiajue/longbridge-sub000/pkg/logger"
)

// StoreCollector collects gauge metrics straight from the backing stores.
type StoreCollector struct {
	log        *logger.Logger
	postgres   *sqlx.DB
	clickhouse driver.Conn

	totalStrategies   *prometheus.Desc
	monitoredSymbols  *prometheus.Desc
	closedTrades24h   *prometheus.Desc
	realizedPnL24h    *prometheus.Desc
	archivedTicks24h  *prometheus.Desc
}

// NewStoreCollector creates the collector. Either database handle may be nil;
// the corresponding metrics are simply skipped.
func NewStoreCollector(log *logger.Logger, postgres *sqlx.DB, clickhouse driver.Conn) *StoreCollector {
	return &StoreCollector{
		log:        log,
		postgres:   postgres,
		clickhouse: clickhouse,

		totalStrategies: prometheus.NewDesc(
			"trader_strategies_total",
			"Total number of stored strategies",
			[]string{"enabled"}, nil,
		),
		monitoredSymbols: prometheus.NewDesc(
			"trader_monitored_symbols_total",
			"Total number of persisted monitoring configs",
			[]string{"mode"}, nil,
		),
		closedTrades24h: prometheus.NewDesc(
			"trader_closed_trades_24h",
			"Positions closed in the last 24h",
			nil, nil,
		),
		realizedPnL24h: prometheus.NewDesc(
			"trader_realized_pnl_24h",
			"Realized PnL over the last 24h",
			nil, nil,
		),
		archivedTicks24h: prometheus.NewDesc(
			"trader_archived_ticks_24h",
			"Ticks written to the archive in the last 24h",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalStrategies
	ch <- c.monitoredSymbols
	ch <- c.closedTrades24h
	ch <- c.realizedPnL24h
	ch <- c.archivedTicks24h
}

// Collect implements prometheus.Collector
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.postgres != nil {
		c.collectStrategyStats(ctx, ch)
		c.collectMonitoringStats(ctx, ch)
		c.collectTradeStats(ctx, ch)
	}
	if c.clickhouse != nil {
		c.collectArchiveStats(ctx, ch)
	}
}

func (c *StoreCollector) collectStrategyStats(ctx context.Context, ch chan<- prometheus.Metric) {
	var rows []struct {
		Enabled bool `db:"enabled"`
		Count   int  `db:"count"`
	}
	err := c.postgres.SelectContext(ctx, &rows,
		`SELECT enabled, COUNT(*) AS count FROM strategies GROUP BY enabled`)
	if err != nil {
		c.log.Warnw("Failed to collect strategy stats", "error", err)
		return
	}
	for _, r := range rows {
		label := "false"
		if r.Enabled {
			label = "true"
		}
		ch <- prometheus.MustNewConstMetric(c.totalStrategies, prometheus.GaugeValue, float64(r.Count), label)
	}
}

func (c *StoreCollector) collectMonitoringStats(ctx context.Context, ch chan<- prometheus.Metric) {
	var rows []struct {
		Mode  string `db:"strategy_mode"`
		Count int    `db:"count"`
	}
	err := c.postgres.SelectContext(ctx, &rows,
		`SELECT strategy_mode, COUNT(*) AS count FROM monitoring_configs GROUP BY strategy_mode`)
	if err != nil {
		c.log.Warnw("Failed to collect monitoring stats", "error", err)
		return
	}
	for _, r := range rows {
		ch <- prometheus.MustNewConstMetric(c.monitoredSymbols, prometheus.GaugeValue, float64(r.Count), r.Mode)
	}
}

func (c *StoreCollector) collectTradeStats(ctx context.Context, ch chan<- prometheus.Metric) {
	var row struct {
		Count int     `db:"count"`
		PnL   float64 `db:"pnl"`
	}
	err := c.postgres.GetContext(ctx, &row, `
		SELECT COUNT(*) AS count, COALESCE(SUM(realized_pnl), 0) AS pnl
		FROM closed_positions
		WHERE exit_time > now() - INTERVAL '24 hours'`)
	if err != nil {
		c.log.Warnw("Failed to collect trade stats", "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.closedTrades24h, prometheus.GaugeValue, float64(row.Count))
	ch <- prometheus.MustNewConstMetric(c.realizedPnL24h, prometheus.GaugeValue, row.PnL)
}

func (c *StoreCollector) collectArchiveStats(ctx context.Context, ch chan<- prometheus.Metric) {
	var count uint64
	row := c.clickhouse.QueryRow(ctx,
		`SELECT count() FROM ticks WHERE ts > now() - INTERVAL 24 HOUR`)
	if err := row.Scan(&count); err != nil {
		c.log.Warnw("Failed to collect archive stats", "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.archivedTicks24h, prometheus.GaugeValue, float64(count))
}
