package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/mariukha/CoopManager/pkg/coop"
	"github.com/mariukha/CoopManager/pkg/httputil"
	"github.com/mariukha/CoopManager/pkg/httputil/middleware"
	pg "github.com/mariukha/CoopManager/pkg/pgx"
	"github.com/mariukha/CoopManager/pkg/pgx/schema"
)

// Catalog resolves table metadata. *schema.Cache implements it.
type Catalog interface {
	Table(name string) (schema.Table, bool)
	Snapshot() map[string]schema.Table
}

// Options configures a Server. Only DB and Tables are required.
type Options struct {
	DB pg.Conn
	// Reader serves views, reports and resident reads. Defaults to DB.
	Reader pg.Conn
	Tables Catalog
	Schema string

	// Tokens signs login tokens and verifies bearer tokens when set.
	Tokens *middleware.Tokens
	// AuthRequired rejects admin and resident requests without a token.
	AuthRequired bool
	// OpsCredentials guard /schema and /metrics with basic auth when set.
	OpsCredentials map[string]string
	LoginLimiter   *middleware.RateLimiter

	Cache    *middleware.Cache
	CacheTTL time.Duration

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// Server holds the handlers of the REST facade.
type Server struct {
	db     pg.Conn
	reader pg.Conn
	tables Catalog
	schema string
	opts   Options
}

func NewServer(opts Options) *Server {
	reader := opts.Reader
	if reader == nil {
		reader = opts.DB
	}
	sch := opts.Schema
	if sch == "" {
		sch = "public"
	}
	return &Server{
		db:     opts.DB,
		reader: reader,
		tables: opts.Tables,
		schema: sch,
		opts:   opts,
	}
}

// Register mounts every route on router.
func (s *Server) Register(router *httputil.Router) {
	public := router.Group("")
	public.HandleFunc("GET /health", s.health)

	login := router.Group("")
	if s.opts.LoginLimiter != nil {
		login.Use(s.opts.LoginLimiter.Handler)
	}
	login.HandleFunc("POST /login", s.login)
	login.HandleFunc("POST /login/resident", s.loginResident)

	admin := router.Group("")
	use(admin, s.guard(middleware.RoleAdmin))
	cached := func(h http.HandlerFunc) http.Handler { return h }
	if s.opts.Cache != nil {
		admin.Use(middleware.InvalidateOnWrite(s.opts.Cache))
		rc := middleware.ResponseCache(s.opts.Cache, s.opts.CacheTTL)
		cached = func(h http.HandlerFunc) http.Handler { return rc(h) }
	}

	admin.HandleFunc("GET /data/{table}", s.listRows)
	admin.HandleFunc("POST /data/{table}", s.insertRow)
	admin.HandleFunc("PUT /data/{table}/{id_field}/{id_value}", s.updateRow)
	admin.HandleFunc("DELETE /data/{table}/{id_field}/{id_value}", s.deleteRow)

	admin.Handle("GET /reports/summary", cached(s.summaryReport))
	admin.Handle("GET /views/{slug}", cached(s.view))
	admin.HandleFunc("GET /system/audit-logs", s.auditLogs)

	admin.HandleFunc("POST /procedures/increase-fees", s.increaseFees)
	admin.HandleFunc("POST /procedures/add-fee", s.addFee)
	admin.HandleFunc("POST /procedures/dodaj-czlonka", s.addMember)
	admin.HandleFunc("PUT /procedures/aktualizuj-czlonka/{id_czlonka}", s.updateMember)
	admin.HandleFunc("DELETE /procedures/usun-czlonka/{id_czlonka}", s.deleteMember)

	admin.HandleFunc("GET /functions/members-of-building/{building_id}", s.membersOfBuilding)
	admin.HandleFunc("POST /functions/dodaj-spotkanie", s.addMeeting)
	admin.HandleFunc("PUT /functions/aktualizuj-saldo/{id_konta}", s.updateAccountBalance)
	admin.HandleFunc("GET /functions/apartment-fees/{apt_id}", s.apartmentFees)
	admin.HandleFunc("GET /functions/worker-repairs/{worker_id}", s.workerRepairs)
	admin.HandleFunc("GET /functions/count-records/{table_name}", s.countRecords)

	admin.HandleFunc("POST /package/insert-budynek", s.insertBuilding)
	admin.HandleFunc("PUT /package/update-budynek/{id_budynku}", s.updateBuilding)
	admin.HandleFunc("DELETE /package/delete-budynek/{id_budynku}", s.deleteBuilding)
	admin.HandleFunc("GET /package/nazwisko-czlonka/{id_czlonka}", s.textFunc(coop.MemberSurname, "id_czlonka", "nazwisko"))
	admin.HandleFunc("GET /package/adres-budynku/{id_budynku}", s.textFunc(coop.BuildingAddress, "id_budynku", "adres"))
	admin.HandleFunc("GET /package/statystyki-budynku/{id_budynku}", s.textFunc(coop.BuildingStatistics, "id_budynku", "statystyki"))

	resident := router.Group("/resident")
	use(resident, s.guard(middleware.RoleAdmin, middleware.RoleResident))
	if s.opts.Cache != nil {
		resident.Use(middleware.InvalidateOnWrite(s.opts.Cache))
	}
	resident.HandleFunc("GET /my-data/{apt_id}", s.residentData)
	resident.HandleFunc("GET /payments/{id_mieszkania}", s.rowsByApartment(myPaymentsSQL))
	resident.HandleFunc("GET /repairs/{id_mieszkania}", s.rowsByApartment(repairsWithWorkerSQL))
	resident.HandleFunc("POST /repairs", s.reportRepair)
	resident.HandleFunc("GET /meetings", s.upcomingMeetings)
	resident.HandleFunc("GET /consumption/{id_mieszkania}", s.rowsByApartment(consumptionSQL))

	ops := router.Group("")
	if len(s.opts.OpsCredentials) > 0 {
		ops.Use(middleware.VerifyBasicAuth(middleware.BasicAuthCreds(s.opts.OpsCredentials)))
	}
	ops.HandleFunc("GET /schema", s.schemaInfo)
	if s.opts.Metrics != nil {
		ops.Handle("GET /metrics", s.opts.Metrics)
	}
}

// guard returns the authentication middleware of a route group.
func (s *Server) guard(roles ...string) []httputil.Middleware {
	var mw []httputil.Middleware
	if s.opts.Tokens != nil {
		mw = append(mw, middleware.Authenticate(s.opts.Tokens))
	}
	if s.opts.AuthRequired {
		mw = append(mw, middleware.RequireRole(roles...))
	}
	return mw
}

func use(g *httputil.Router, mw []httputil.Middleware) {
	if len(mw) > 0 {
		g.Use(mw[0], mw[1:]...)
	}
}

// queryJSON runs sql on conn and serializes the result rows.
func queryJSON(ctx context.Context, conn pg.Conn, sql string, args ...any) ([]map[string]any, error) {
	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows)
}

// pathID parses an integer path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, badRequest(errors.New(name + " must be an integer, got " + strconv.Quote(raw)))
	}
	return id, nil
}

func badRequest(err error) error {
	return httputil.WithStatus(http.StatusBadRequest, err)
}

// success is the body of a write without a representation.
func success(message string, fields ...any) map[string]any {
	body := map[string]any{"success": true, "message": message}
	for i := 0; i+1 < len(fields); i += 2 {
		body[fields[i].(string)] = fields[i+1]
	}
	return body
}
