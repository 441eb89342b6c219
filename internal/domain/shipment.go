package domain

import (
	"fmt"
	"strings"
)

// DefaultCourierService is the provider tier used when neither the selection nor the
// company's regular tier has a mapping.
const DefaultCourierService = "reg"

// courierServices maps internal courier selections to the provider's service codes, per company.
var courierServices = map[string]map[string]string{
	"jne": {
		"regular": "reg",
		"reg":     "reg",
		"express": "yes",
		"yes":     "yes",
		"economy": "oke",
		"oke":     "oke",
	},
	"sicepat": {
		"regular": "reg",
		"reg":     "reg",
		"express": "best",
		"best":    "best",
		"cargo":   "gokil",
	},
	"jnt": {
		"regular": "ez",
		"reg":     "ez",
		"ez":      "ez",
	},
	"anteraja": {
		"regular":  "reg",
		"reg":      "reg",
		"next_day": "next_day",
		"same_day": "same_day",
	},
	"pos": {
		"regular": "reg",
		"reg":     "reg",
		"express": "kilat_khusus",
	},
	"gojek": {
		"regular":  "same_day",
		"instant":  "instant",
		"same_day": "same_day",
	},
	"grab": {
		"regular":  "same_day",
		"instant":  "instant",
		"same_day": "same_day",
	},
}

// MapCourierService translates an internal courier selection into the provider's service code.
// Unknown selections fall back to the company's own regular tier.
func MapCourierService(company, service string) string {
	services, ok := courierServices[strings.ToLower(strings.TrimSpace(company))]
	if !ok {
		return DefaultCourierService
	}
	if code, ok := services[strings.ToLower(strings.TrimSpace(service))]; ok {
		return code
	}
	if code, ok := services["regular"]; ok {
		return code
	}
	return DefaultCourierService
}

type ShipmentContact struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Email      string `json:"email,omitempty"`
	Address    string `json:"address"`
	PostalCode string `json:"postal_code"`
	Note       string `json:"note,omitempty"`
}

type ShipmentItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Value    int64  `json:"value"`
	Weight   int    `json:"weight"`
}

type ShipmentRequest struct {
	ReferenceID    string          `json:"reference_id"`
	Origin         ShipmentContact `json:"origin"`
	Destination    ShipmentContact `json:"destination"`
	CourierCompany string          `json:"courier_company"`
	CourierType    string          `json:"courier_type"`
	DeclaredValue  int64           `json:"declared_value"`
	Note           string          `json:"note,omitempty"`
	Items          []ShipmentItem  `json:"items"`
}

// Shipment is what the provider reports about a shipment it accepted.
type Shipment struct {
	ID            string
	WaybillNumber string
	TrackingRef   string
	Status        string
	Courier       string
}

// MissingShippingInfo lists the shipping fields the order lacks for provisioning.
func MissingShippingInfo(o *Order) []string {
	var missing []string
	check := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	check("destination.line", o.Destination.Line)
	check("destination.postal_code", o.Destination.PostalCode)
	check("destination.recipient_name", o.Destination.RecipientName)
	check("destination.phone", o.Destination.Phone)
	check("courier_company", o.CourierCompany)
	check("courier_service", o.CourierService)
	return missing
}

// ShipmentReference is the idempotency key handed to the shipping provider for an order.
func ShipmentReference(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// BuildShipmentRequest assembles the provider request from the order snapshot and its items.
func BuildShipmentRequest(o *Order, items []OrderItem, origin ShipmentContact) ShipmentRequest {
	req := ShipmentRequest{
		ReferenceID: ShipmentReference(o.ID),
		Origin:      origin,
		Destination: ShipmentContact{
			Name:       o.Destination.RecipientName,
			Phone:      o.Destination.Phone,
			Email:      o.Destination.Email,
			Address:    joinAddress(o.Destination),
			PostalCode: o.Destination.PostalCode,
			Note:       o.Destination.Note,
		},
		CourierCompany: strings.ToLower(strings.TrimSpace(o.CourierCompany)),
		CourierType:    MapCourierService(o.CourierCompany, o.CourierService),
		Note:           o.CourierNote,
		Items:          make([]ShipmentItem, 0, len(items)),
	}
	for _, item := range items {
		value := item.DeclaredValue()
		req.Items = append(req.Items, ShipmentItem{
			Name:     item.Title,
			Quantity: item.Quantity,
			Value:    value,
			Weight:   item.WeightGrams(),
		})
		req.DeclaredValue += value
	}
	return req
}

func joinAddress(a Address) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{a.Line, a.City, a.Province} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
