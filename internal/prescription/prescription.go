// Package prescription models consultation prescriptions. A prescription is
// persisted as one ledger value per registration id (the store has no
// prescription table in this deployment), serialized as JSON.
package prescription

// Status of a prescription.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusCompleted Status = "COMPLETED"
)

// Dosing frequencies. Anything outside this table multiplies by 1.
const (
	FreqOnceDaily  = "once-daily"
	FreqTwiceDaily = "twice-daily"
	FreqThrice     = "thrice-daily"
	FreqFourTimes  = "four-times-daily"
	FreqAsNeeded   = "as-needed"
)

var frequencyMultiplier = map[string]float64{
	FreqOnceDaily:  1,
	FreqTwiceDaily: 2,
	FreqThrice:     3,
	FreqFourTimes:  4,
	FreqAsNeeded:   1,
}

// MultiplierFor returns the daily dose multiplier for a frequency, 1 for any
// unrecognized value.
func MultiplierFor(frequency string) float64 {
	if m, ok := frequencyMultiplier[frequency]; ok {
		return m
	}
	return 1
}

// ComputeTotal is the dispensed quantity for one line:
// dose × frequency multiplier × days.
func ComputeTotal(dose float64, frequency string, days int) float64 {
	if dose == 0 || days == 0 {
		return 0
	}
	return dose * MultiplierFor(frequency) * float64(days)
}

// Line is one ordered medication.
type Line struct {
	ProductID   int     `json:"product_id"`
	ProductName string  `json:"product_name"`
	Dose        float64 `json:"dose"`
	Unit        string  `json:"unit"`
	Frequency   string  `json:"frequency"`
	Days        int     `json:"days"`
	// Quantity is derived; Normalize recomputes it before every save.
	Quantity float64 `json:"quantity"`
}

// Prescription is the full consultation order for one registration.
type Prescription struct {
	RegistrationID int    `json:"registration_id"`
	Diagnosis      string `json:"diagnosis"`
	Lines          []Line `json:"lines"`
	Status         Status `json:"status"`
}

// Normalize recomputes derived quantities and defaults the status.
func (p *Prescription) Normalize() {
	if p.Status == "" {
		p.Status = StatusDraft
	}
	for i := range p.Lines {
		p.Lines[i].Quantity = ComputeTotal(p.Lines[i].Dose, p.Lines[i].Frequency, p.Lines[i].Days)
	}
}
