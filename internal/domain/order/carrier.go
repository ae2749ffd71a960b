package order

import "slices"

// Carrier is a supported shipping carrier.
type Carrier struct {
	ID   string
	Name string
}

// Carriers lists the carriers a seller may ship with.
var Carriers = []Carrier{
	{ID: "seur", Name: "SEUR"},
	{ID: "mrw", Name: "MRW"},
	{ID: "correos", Name: "Correos"},
	{ID: "gls", Name: "GLS"},
	{ID: "ups", Name: "UPS"},
	{ID: "dhl", Name: "DHL"},
	{ID: "fedex", Name: "FedEx"},
	{ID: "nacex", Name: "Nacex"},
	{ID: "ctt", Name: "CTT Express"},
	{ID: "other", Name: "Other"},
}

// KnownCarrier reports whether id names a supported carrier.
func KnownCarrier(id string) bool {
	return slices.ContainsFunc(Carriers, func(c Carrier) bool { return c.ID == id })
}
