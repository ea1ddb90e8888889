package tools

import "math"

// MortgageMonthly is the amortized monthly payment for a principal at an
// annual percentage rate over a term in years. A zero rate degenerates to
// straight division.
func MortgageMonthly(principal, annualRatePercent float64, years int) float64 {
	r := annualRatePercent / 12 / 100
	n := float64(years * 12)
	if r == 0 {
		return principal / n
	}
	pow := math.Pow(1+r, n)
	return principal * r * pow / (pow - 1)
}

type BreakdownParams struct {
	Price               float64 `json:"price"`
	Rate                float64 `json:"rate"`
	Years               int     `json:"years"`
	DownPayment         float64 `json:"down_payment,omitempty"`
	PropertyTaxAnnual   float64 `json:"property_tax_annual,omitempty"`
	HomeInsuranceAnnual float64 `json:"home_insurance_annual,omitempty"`
	HOA                 float64 `json:"hoa,omitempty"`
	PMIMonthly          float64 `json:"pmi_monthly,omitempty"`
}

type Breakdown struct {
	Principal int `json:"principal"`
	PI        int `json:"pi"`
	Tax       int `json:"tax"`
	Ins       int `json:"ins"`
	HOA       int `json:"hoa"`
	PMI       int `json:"pmi"`
	Total     int `json:"total"`
}

// MortgageBreakdown itemizes the monthly cost of a purchase. Components are
// computed unrounded and rounded once at the boundary; the total is the sum
// of the rounded components so the line items always add up.
func MortgageBreakdown(p BreakdownParams) Breakdown {
	principal := math.Max(0, p.Price-p.DownPayment)
	pi := MortgageMonthly(principal, p.Rate, p.Years)
	tax := p.PropertyTaxAnnual / 12
	ins := p.HomeInsuranceAnnual / 12

	b := Breakdown{
		Principal: int(math.Round(principal)),
		PI:        int(math.Round(pi)),
		Tax:       int(math.Round(tax)),
		Ins:       int(math.Round(ins)),
		HOA:       int(math.Round(p.HOA)),
		PMI:       int(math.Round(p.PMIMonthly)),
	}
	b.Total = b.PI + b.Tax + b.Ins + b.HOA + b.PMI
	return b
}
