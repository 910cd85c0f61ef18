package coop

// RoutineKind distinguishes procedures (invoked with CALL, results via OUT
// parameters) from functions (invoked with SELECT).
type RoutineKind int

const (
	Procedure RoutineKind = iota
	Function
)

func (k RoutineKind) String() string {
	if k == Procedure {
		return "procedure"
	}
	return "function"
}

// Routine describes a stored routine the facade invokes.
type Routine struct {
	Schema string
	Name   string
	Kind   RoutineKind
	// In is the number of IN arguments, Out the number of trailing OUT
	// parameters passed as NULL placeholders.
	In  int
	Out int
}

// QualifiedName returns schema.name, or just name for the search path.
func (r Routine) QualifiedName() []string {
	if r.Schema == "" {
		return []string{r.Name}
	}
	return []string{r.Schema, r.Name}
}

// String implements fmt.Stringer.
func (r Routine) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

const (
	pkgSchema     = "coop_pkg"
	crudPkgSchema = "coop_crud_pkg"
)

// Stored routines of the cooperative schema.
var (
	IncreaseFees         = Routine{Name: "zwieksz_oplaty", Kind: Procedure, In: 1}
	AddFee               = Routine{Name: "dodaj_oplate_fn", Kind: Function, In: 3}
	MembersOfBuilding    = Routine{Name: "pobierz_czlonkow_budynku", Kind: Function, In: 1}
	AddMember            = Routine{Name: "dodaj_czlonka", Kind: Procedure, In: 6, Out: 1}
	UpdateMember         = Routine{Name: "aktualizuj_czlonka", Kind: Procedure, In: 5, Out: 1}
	DeleteMember         = Routine{Name: "usun_czlonka", Kind: Procedure, In: 1, Out: 1}
	AddMeeting           = Routine{Name: "dodaj_spotkanie", Kind: Function, In: 3}
	UpdateAccountBalance = Routine{Name: "aktualizuj_saldo_konta", Kind: Function, In: 2}
	CountRecords         = Routine{Name: "policz_rekordy", Kind: Function, In: 1}
	ReportRepair         = Routine{Name: "zglos_naprawe", Kind: Procedure, In: 2, Out: 1}
	ApartmentFees        = Routine{Schema: pkgSchema, Name: "suma_oplat_mieszkania", Kind: Function, In: 1}
	WorkerRepairs        = Routine{Schema: pkgSchema, Name: "policz_naprawy_pracownika", Kind: Function, In: 1}
	InsertBuilding       = Routine{Schema: crudPkgSchema, Name: "insert_budynek", Kind: Procedure, In: 3, Out: 1}
	UpdateBuilding       = Routine{Schema: crudPkgSchema, Name: "update_budynek", Kind: Procedure, In: 3}
	DeleteBuilding       = Routine{Schema: crudPkgSchema, Name: "delete_budynek", Kind: Procedure, In: 1, Out: 1}
	MemberSurname        = Routine{Schema: crudPkgSchema, Name: "pobierz_nazwisko_czlonka", Kind: Function, In: 1}
	BuildingAddress      = Routine{Schema: crudPkgSchema, Name: "pobierz_adres_budynku", Kind: Function, In: 1}
	BuildingStatistics   = Routine{Schema: crudPkgSchema, Name: "statystyki_budynku", Kind: Function, In: 1}
)

// Arity returns the number of IN and OUT parameters.
func (r Routine) Arity() (in, out int) {
	return r.In, r.Out
}
