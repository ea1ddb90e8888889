// Package uispec defines the versioned structured-reply payload: an ordered
// list of typed blocks the client renders as rich UI instead of prose.
package uispec

import "strings"

const Version = "1.0"

const (
	BlockText          = "text"
	BlockPropertyCards = "property_cards"
	BlockContactCard   = "contact_card"
	BlockMortgage      = "mortgage_summary"
	BlockConfirmation  = "confirmation"
)

type Spec struct {
	Version string  `json:"version"`
	Blocks  []Block `json:"blocks"`
}

type Block struct {
	Type string `json:"type"`

	// BlockText / BlockConfirmation
	Text string `json:"text,omitempty"`

	// BlockPropertyCards
	Properties []PropertyCard `json:"properties,omitempty"`

	// BlockContactCard
	Contact *ContactCard `json:"contact,omitempty"`

	// BlockMortgage
	Mortgage *MortgageSummary `json:"mortgage,omitempty"`
}

type PropertyCard struct {
	ID             string  `json:"id"`
	Title          string  `json:"title"`
	Address        string  `json:"address"`
	City           string  `json:"city,omitempty"`
	State          string  `json:"state,omitempty"`
	Price          int     `json:"price,omitempty"`
	Beds           int     `json:"beds,omitempty"`
	Baths          int     `json:"baths,omitempty"`
	LivingAreaSqft int     `json:"living_area_sqft,omitempty"`
	ImageURL       string  `json:"image_url,omitempty"`
	CanonicalURL   string  `json:"url"`
	Score          float32 `json:"score,omitempty"`
}

type ContactCard struct {
	Heading string   `json:"heading"`
	Phone   string   `json:"phone,omitempty"`
	Email   string   `json:"email,omitempty"`
	Options []string `json:"options,omitempty"`
}

type MortgageSummary struct {
	Principal int `json:"principal"`
	PI        int `json:"pi"`
	Tax       int `json:"tax"`
	Insurance int `json:"ins"`
	HOA       int `json:"hoa"`
	PMI       int `json:"pmi"`
	Total     int `json:"total"`
}

func New(blocks ...Block) *Spec {
	return &Spec{Version: Version, Blocks: blocks}
}

func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

func ConfirmationBlock(text string) Block {
	return Block{Type: BlockConfirmation, Text: text}
}

func PropertyCardsBlock(cards []PropertyCard) Block {
	return Block{Type: BlockPropertyCards, Properties: cards}
}

func ContactCardBlock(c ContactCard) Block {
	return Block{Type: BlockContactCard, Contact: &c}
}

func MortgageBlock(m MortgageSummary) Block {
	return Block{Type: BlockMortgage, Mortgage: &m}
}

// ConfirmationLine picks the sentence speech synthesis reads for a
// structured reply: the first confirmation or text block, if any.
func (s *Spec) ConfirmationLine() string {
	if s == nil {
		return ""
	}
	for _, b := range s.Blocks {
		if b.Type == BlockConfirmation && strings.TrimSpace(b.Text) != "" {
			return b.Text
		}
	}
	for _, b := range s.Blocks {
		if b.Type == BlockText && strings.TrimSpace(b.Text) != "" {
			return b.Text
		}
	}
	return ""
}
