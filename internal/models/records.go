package models

import "time"

// Status values the bot writes or reasons about.
const (
	// OrderStatusRegistered is written on every order created through the bot.
	OrderStatusRegistered = "Pedido Registrado"
	// OrderStatusDelivered marks an order handed over to the client.
	OrderStatusDelivered = "Entregue"
)

// Admin is a row of ADM_BOT.
type Admin struct {
	Phone string
	Name  string
}

// Client is a row of CLIENTES.
type Client struct {
	Phone   string
	Name    string
	Gender  string
	License string
}

// IsFemale reports whether the client is registered with gender F.
func (c Client) IsFemale() bool {
	return c.Gender == "F" || c.Gender == "f"
}

// Title returns the honorific used in front of the client's name.
func (c Client) Title() string {
	if c.IsFemale() {
		return "Dra."
	}
	return "Dr."
}

// FirstName returns the first word of the registered name.
func (c Client) FirstName() string {
	for i, r := range c.Name {
		if r == ' ' {
			return c.Name[:i]
		}
	}
	return c.Name
}

// Product is a row of PRODUTOS.
type Product struct {
	Name         string
	CatalogPrice string
	LeadTimeDays string
}

// Prospect is a row of CLI_APR: an unknown sender who self-identified as a dentist.
type Prospect struct {
	Phone        string
	Response     string
	RegisteredAt string
}

// Patient is a row of PACIENTES.
type Patient struct {
	Name   string
	Client string
}

// Order is a row of PEDIDOS. Dates and money keep the spreadsheet text; the
// parsed forms are exposed through methods.
type Order struct {
	Number          string
	Status          string
	Client          string
	Patient         string
	OrderedOn       string
	Deadline        string
	DeliveredOn     string
	Value           string
	OutsourcingCost string
	Paid            string
	Note            string
}

// IsPaid reports whether the PAGO column carries any mark.
func (o Order) IsPaid() bool {
	for _, r := range o.Paid {
		if r != ' ' && r != '\t' {
			return true
		}
	}
	return false
}

// IsDelivered reports whether the order status is "Entregue".
func (o Order) IsDelivered() bool {
	return o.Status == OrderStatusDelivered
}

// OrderLine is a row of PEDIDOS_ITENS.
type OrderLine struct {
	Number       string
	Product      string
	Quantity     string
	Color        string
	Note         string
	ChargedPrice string
	CatalogPrice string
	Total        string
}

// OrderItem is one product line of an order being built in a session.
type OrderItem struct {
	Product      string `json:"product"`
	Quantity     int    `json:"quantity"`
	Color        string `json:"color"`
	Note         string `json:"note,omitempty"`
	CatalogPrice string `json:"catalog_price"`
}

// Validate checks the item invariants: non-empty product and quantity >= 1.
func (i OrderItem) Validate() error {
	if i.Product == "" || i.Quantity < 1 {
		return ErrInvalidItem
	}
	return nil
}

// OrderDraft is the order-in-progress owned by a client session.
type OrderDraft struct {
	PatientName string      `json:"patient_name"`
	Items       []OrderItem `json:"items"`
}

// Validate checks that the draft can be persisted.
func (d OrderDraft) Validate() error {
	if d.PatientName == "" {
		return ErrEmptyPatient
	}
	if len(d.Items) == 0 {
		return ErrEmptyOrder
	}
	for _, it := range d.Items {
		if err := it.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DeadlineBuckets classifies pending orders by deadline relative to a day.
type DeadlineBuckets struct {
	Overdue []Order
	Today   []Order
	Future  []Order
	// AsOf is the instant the classification was computed for.
	AsOf time.Time
}

// Bucket returns the orders of bucket n (1 overdue, 2 today, 3 future).
func (b DeadlineBuckets) Bucket(n int) ([]Order, bool) {
	switch n {
	case 1:
		return b.Overdue, true
	case 2:
		return b.Today, true
	case 3:
		return b.Future, true
	default:
		return nil, false
	}
}
