package rest

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/mariukha/CoopManager/pkg/coop"
	"github.com/mariukha/CoopManager/pkg/httputil"
	pg "github.com/mariukha/CoopManager/pkg/pgx"
	"github.com/mariukha/CoopManager/pkg/pgx/routine"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	servicesSummarySQL = `SELECT u.nazwa_uslugi, u.jednostka_miary,
       COALESCE(SUM(o.zuzycie), 0) AS total_zuzycie,
       COALESCE(SUM(o.kwota), 0) AS total_kwota
  FROM uslugi u
  LEFT JOIN oplata o ON u.id_uslugi = o.id_uslugi
 GROUP BY u.id_uslugi, u.nazwa_uslugi, u.jednostka_miary
 ORDER BY total_kwota DESC`

	membersCountSQL = `SELECT COUNT(*) FROM czlonek`

	arrearsCountSQL = `SELECT COUNT(*) FROM oplata WHERE status_oplaty IN ('nieoplacone', 'zaleglosc')`

	unpaidDetailsSQL = `SELECT b.adres, m.numer::text AS numer_mieszkania, u.nazwa_uslugi, o.kwota, o.data_naliczenia
  FROM oplata o
  JOIN mieszkanie m ON o.id_mieszkania = m.id_mieszkania
  JOIN budynek b ON m.id_budynku = b.id_budynku
  LEFT JOIN uslugi u ON o.id_uslugi = u.id_uslugi
 WHERE o.status_oplaty IN ('nieoplacone', 'zaleglosc')
 ORDER BY o.kwota DESC
 FETCH FIRST 50 ROWS ONLY`

	apartmentsSummarySQL = `SELECT * FROM v_oplaty_summary ORDER BY suma_oplat DESC FETCH FIRST 10 ROWS ONLY`

	repairsStatusSQL = `SELECT * FROM v_naprawy_status`
)

type serviceSummary struct {
	Name        string  `json:"nazwa_uslugi"`
	Unit        string  `json:"jednostka_miary"`
	Consumption float64 `json:"total_zuzycie"`
	Amount      float64 `json:"total_kwota"`
}

type unpaidFee struct {
	Address   string  `json:"adres"`
	Apartment string  `json:"numer_mieszkania"`
	Service   string  `json:"nazwa_uslugi"`
	Amount    float64 `json:"kwota"`
	Charged   *string `json:"data_platnosci"`
}

// SummaryReport is the body of GET /reports/summary.
type SummaryReport struct {
	Services      []serviceSummary `json:"services_summary"`
	TotalRevenue  float64          `json:"total_revenue"`
	MembersCount  int64            `json:"members_count"`
	ArrearsCount  int64            `json:"arrears_count"`
	UnpaidDetails []unpaidFee      `json:"unpaid_details"`
	TableStats    map[string]int64 `json:"table_stats"`
	Apartments    []map[string]any `json:"apartments_summary"`
	RepairsStatus []map[string]any `json:"repairs_status"`
}

func (s *Server) summaryReport(w http.ResponseWriter, r *http.Request) {
	report, err := buildSummary(r.Context(), s.reader, httputil.Logger(r))
	if err != nil {
		httputil.ServerError(w, r, err)
		return
	}
	httputil.JSON(w, http.StatusOK, report)
}

// buildSummary runs the independent report queries concurrently. A failing
// table count reports 0 for that table; any other failure fails the report.
func buildSummary(ctx context.Context, conn pg.Conn, logger *zap.Logger) (*SummaryReport, error) {
	report := &SummaryReport{}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		services, total, err := servicesSummary(ctx, conn)
		report.Services, report.TotalRevenue = services, total
		return err
	})
	g.Go(func() error {
		return conn.QueryRow(ctx, membersCountSQL).Scan(&report.MembersCount)
	})
	g.Go(func() error {
		return conn.QueryRow(ctx, arrearsCountSQL).Scan(&report.ArrearsCount)
	})
	g.Go(func() error {
		var err error
		report.UnpaidDetails, err = unpaidDetails(ctx, conn)
		return err
	})
	g.Go(func() error {
		report.TableStats = tableStats(ctx, conn, logger)
		return nil
	})
	g.Go(func() error {
		var err error
		report.Apartments, err = queryJSON(ctx, conn, apartmentsSummarySQL)
		return err
	})
	g.Go(func() error {
		var err error
		report.RepairsStatus, err = queryJSON(ctx, conn, repairsStatusSQL)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

func servicesSummary(ctx context.Context, conn pg.Conn) ([]serviceSummary, float64, error) {
	rows, err := conn.Query(ctx, servicesSummarySQL)
	if err != nil {
		return nil, 0, err
	}
	var total float64
	services, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (serviceSummary, error) {
		var (
			sum  serviceSummary
			unit pgtype.Text
		)
		if err := row.Scan(&sum.Name, &unit, &sum.Consumption, &sum.Amount); err != nil {
			return sum, err
		}
		sum.Unit = "szt"
		if unit.Valid && unit.String != "" {
			sum.Unit = unit.String
		}
		total += sum.Amount
		return sum, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return services, total, nil
}

func unpaidDetails(ctx context.Context, conn pg.Conn) ([]unpaidFee, error) {
	rows, err := conn.Query(ctx, unpaidDetailsSQL)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (unpaidFee, error) {
		var (
			fee     unpaidFee
			service pgtype.Text
			amount  pgtype.Float8
			charged pgtype.Date
		)
		if err := row.Scan(&fee.Address, &fee.Apartment, &service, &amount, &charged); err != nil {
			return fee, err
		}
		fee.Service = "Inne"
		if service.Valid && service.String != "" {
			fee.Service = service.String
		}
		fee.Amount = amount.Float64
		if charged.Valid {
			fee.Charged = ptr(charged.Time.Format(dateLayout))
		}
		return fee, nil
	})
}

func tableStats(ctx context.Context, conn pg.Conn, logger *zap.Logger) map[string]int64 {
	stats := make(map[string]int64, len(coop.StatTables))
	for _, table := range coop.StatTables {
		var n pgtype.Int8
		if err := routine.Func(ctx, conn, coop.CountRecords, []any{table}, &n); err != nil {
			logger.Warn("counting records failed", zap.String("table", table), zap.Error(err))
			n = pgtype.Int8{}
		}
		stats[table] = n.Int64
	}
	return stats
}
