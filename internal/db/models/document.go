package models

import (
	"time"
)

type DocumentKind string

const (
	KindDraft    DocumentKind = "DRAFT"
	KindTemplate DocumentKind = "TEMPLATE"
	KindArchived DocumentKind = "ARCHIVED"
)

type DocumentStatus string

const (
	StatusNew                  DocumentStatus = "NEW"
	StatusLoading              DocumentStatus = "LOADING"
	StatusInTransport          DocumentStatus = "IN_TRANSPORT"
	StatusDelivered            DocumentStatus = "DELIVERED"
	StatusArrivedAtDestination DocumentStatus = "ARRIVED_AT_DESTINATION"
)

// Rank orders statuses along the lifecycle; unknown statuses rank -1.
func (s DocumentStatus) Rank() int {
	switch s {
	case StatusNew:
		return 0
	case StatusLoading:
		return 1
	case StatusInTransport:
		return 2
	case StatusDelivered:
		return 3
	case StatusArrivedAtDestination:
		return 4
	}
	return -1
}

type Party struct {
	Name        string `json:"name,omitempty"`
	Street      string `json:"street,omitempty"`
	PostCode    string `json:"postCode,omitempty"`
	City        string `json:"city,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

func (p Party) Populated() bool {
	return p.Name != "" && p.City != "" && p.CountryCode != ""
}

type TakingOver struct {
	Location    string     `json:"location,omitempty"`
	CountryCode string     `json:"countryCode,omitempty"`
	Date        *time.Time `json:"date,omitempty"`
}

func (t TakingOver) Populated() bool {
	return t.Location != "" && t.Date != nil
}

type Place struct {
	Location    string `json:"location,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
}

type Item struct {
	MarksAndNumbers   string  `json:"marksAndNumbers,omitempty"`
	NumberOfPackages  int     `json:"numberOfPackages,omitempty"`
	MethodOfPacking   string  `json:"methodOfPacking,omitempty"`
	NatureOfGoods     string  `json:"natureOfGoods,omitempty"`
	StatisticalNumber string  `json:"statisticalNumber,omitempty"`
	GrossWeightKg     float64 `json:"grossWeightKg,omitempty"`
	VolumeM3          float64 `json:"volumeM3,omitempty"`
}

type Charges struct {
	Currency         string  `json:"currency,omitempty"`
	Carriage         float64 `json:"carriage,omitempty"`
	Supplements      float64 `json:"supplements,omitempty"`
	CustomsDuties    float64 `json:"customsDuties,omitempty"`
	OtherCharges     float64 `json:"otherCharges,omitempty"`
	PayerIsConsignee bool    `json:"payerIsConsignee,omitempty"`
}

type Observations struct {
	Reservations string `json:"reservations,omitempty"`
	Remarks      string `json:"remarks,omitempty"`
}

type GoodsReceived struct {
	Place        string     `json:"place,omitempty"`
	ReceivedAt   *time.Time `json:"receivedAt,omitempty"`
	Remarks      string     `json:"remarks,omitempty"`
	ReceiverName string     `json:"receiverName,omitempty"`
}

func (g GoodsReceived) Populated() bool {
	return g.ReceivedAt != nil && g.ReceiverName != ""
}

// Sections holds the client-editable content of a consignment note.
type Sections struct {
	Reference          string     `json:"reference,omitempty"`
	Sender             Party      `json:"sender"`
	Carrier            Party      `json:"carrier"`
	SuccessiveCarrier  Party      `json:"successiveCarrier"`
	Consignee          Party      `json:"consignee"`
	TakingOver         TakingOver `json:"takingOver"`
	PlaceOfDelivery    Place      `json:"placeOfDelivery"`
	Items              []Item     `json:"items,omitempty"`
	Charges            Charges    `json:"charges"`
	SenderInstructions string     `json:"senderInstructions,omitempty"`

	CarrierObservations           Observations  `json:"carrierObservations"`
	SuccessiveCarrierObservations Observations  `json:"successiveCarrierObservations"`
	GoodsReceived                 GoodsReceived `json:"goodsReceived"`
}

type Document struct {
	ID      string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Kind    DocumentKind   `gorm:"not null;default:'DRAFT';index" json:"kind"`
	Status  DocumentStatus `gorm:"not null;default:'NEW';index" json:"status"`
	Version int64          `gorm:"not null;default:1" json:"version"`

	Sections Sections `gorm:"serializer:json;type:jsonb" json:"sections"`

	CreatedBy    string     `json:"createdBy"`
	UpdatedBy    string     `json:"updatedBy"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	ArrivedAt    *time.Time `json:"arrivedAt,omitempty"`
	ImportedFrom string     `json:"importedFrom,omitempty"`
}

func (Document) TableName() string {
	return "documents"
}

// Clone returns a deep copy so callers can mutate sections freely.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	out.Sections = d.Sections.Clone()
	if d.ArrivedAt != nil {
		t := *d.ArrivedAt
		out.ArrivedAt = &t
	}
	return &out
}

func (s Sections) Clone() Sections {
	out := s
	if s.Items != nil {
		out.Items = append([]Item(nil), s.Items...)
	}
	if s.TakingOver.Date != nil {
		t := *s.TakingOver.Date
		out.TakingOver.Date = &t
	}
	if s.GoodsReceived.ReceivedAt != nil {
		t := *s.GoodsReceived.ReceivedAt
		out.GoodsReceived.ReceivedAt = &t
	}
	return out
}

// Normalized is a deep copy with every timestamp in UTC, so the same instant
// always encodes to the same bytes whatever offset the client sent.
func (s Sections) Normalized() Sections {
	out := s.Clone()
	if out.TakingOver.Date != nil {
		t := out.TakingOver.Date.UTC()
		out.TakingOver.Date = &t
	}
	if out.GoodsReceived.ReceivedAt != nil {
		t := out.GoodsReceived.ReceivedAt.UTC()
		out.GoodsReceived.ReceivedAt = &t
	}
	return out
}
