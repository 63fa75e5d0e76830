// Package lab implements the dental lab's domain queries on top of a tabular
// store: who is writing, what they ordered, and the reports admins browse.
//
// Rows are converted to typed records from internal/models as soon as they are
// read, so nothing outside this package looks up columns by name.
package lab

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/labbot/internal/store"
)

// Sheet names in the registry spreadsheet.
const (
	SheetAdmins    = "ADM_BOT"
	SheetClients   = "CLIENTES"
	SheetProducts  = "PRODUTOS"
	SheetProspects = "CLI_APR"
	SheetPatients  = "PACIENTES"
)

// Sheet names in the orders spreadsheet.
const (
	SheetOrders     = "PEDIDOS"
	SheetOrderLines = "PEDIDOS_ITENS"
)

// Defaults used when no option overrides them.
const (
	DefaultCountryCode      = "55"
	DefaultTimeZone         = "America/Sao_Paulo"
	DefaultProspectTimeZone = "America/Cuiaba"
	DefaultRegistryID       = "registry"
	DefaultOrdersID         = "orders"
)

// Date layouts of the spreadsheets.
const (
	dateLayout      = "02/01/2006"
	dateParseLayout = "2/1/2006"
	timestampLayout = "02/01/2006 15:04:05"
)

// Opts configures a Lab.
type Opts struct {
	RegistryID       string         // spreadsheet holding ADM_BOT, CLIENTES, PRODUTOS, CLI_APR, PACIENTES
	OrdersID         string         // spreadsheet holding PEDIDOS and PEDIDOS_ITENS
	CountryCode      string         // prefix stripped from sender numbers
	Location         *time.Location // lab time zone for order dates and deadlines
	ProspectLocation *time.Location // time zone of CLI_APR timestamps
	Now              func() time.Time
}

// Option defines a configuration option for Lab.
type Option func(*Opts)

// WithRegistryID sets the registry spreadsheet ID.
func WithRegistryID(id string) Option {
	return func(o *Opts) {
		o.RegistryID = id
	}
}

// WithOrdersID sets the orders spreadsheet ID.
func WithOrdersID(id string) Option {
	return func(o *Opts) {
		o.OrdersID = id
	}
}

// WithCountryCode sets the country code dropped from sender numbers.
func WithCountryCode(code string) Option {
	return func(o *Opts) {
		o.CountryCode = code
	}
}

// WithLocation sets the lab time zone.
func WithLocation(loc *time.Location) Option {
	return func(o *Opts) {
		o.Location = loc
	}
}

// WithProspectLocation sets the time zone used for prospect timestamps.
func WithProspectLocation(loc *time.Location) Option {
	return func(o *Opts) {
		o.ProspectLocation = loc
	}
}

// WithNow overrides the clock, mainly for tests.
func WithNow(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

// Lab answers domain queries against the registry and orders spreadsheets.
// Every query reads fresh rows; nothing is cached between calls.
type Lab struct {
	store       store.Store
	registryID  string
	ordersID    string
	countryCode string
	loc         *time.Location
	prospectLoc *time.Location
	now         func() time.Time

	// Order number reservation. lastIssued is the highest number handed out by
	// this process, so two saves never share a number even if the first header
	// row is not yet visible when the second save reads the sheet.
	numMu      sync.Mutex
	lastIssued int
}

// New creates a Lab backed by st.
func New(st store.Store, opts ...Option) *Lab {
	cfg := Opts{
		RegistryID:  DefaultRegistryID,
		OrdersID:    DefaultOrdersID,
		CountryCode: DefaultCountryCode,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Location == nil {
		cfg.Location = loadLocation(DefaultTimeZone)
	}
	if cfg.ProspectLocation == nil {
		cfg.ProspectLocation = loadLocation(DefaultProspectTimeZone)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	slog.Debug("lab.New: configured", "registry", cfg.RegistryID, "orders", cfg.OrdersID,
		"country_code", cfg.CountryCode, "tz", cfg.Location.String())
	return &Lab{
		store:       st,
		registryID:  cfg.RegistryID,
		ordersID:    cfg.OrdersID,
		countryCode: cfg.CountryCode,
		loc:         cfg.Location,
		prospectLoc: cfg.ProspectLocation,
		now:         cfg.Now,
	}
}

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("lab.loadLocation: falling back to UTC", "tz", name, "error", err)
		return time.UTC
	}
	return loc
}

// Location returns the lab time zone.
func (l *Lab) Location() *time.Location {
	return l.loc
}

// today returns the current instant in the lab time zone.
func (l *Lab) today() time.Time {
	return l.now().In(l.loc)
}
