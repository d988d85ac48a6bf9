package domain

import (
	"encoding/xml"
	"fmt"
	"time"
)

// CAP header constants, fixed for every alert this service emits.
const (
	AlertSender   = "cri@cri.com"
	AlertStatus   = "Actual"
	AlertMsgType  = "Alert"
	AlertScope    = "Public"
	AlertCategory = "Met"
)

// capXMLNS is the CAP 1.2 namespace.
const capXMLNS = "urn:oasis:names:tc:emergency:cap:1.2"

// AlertRecord is the standardized, persisted notification unit, modeled on
// CAP 1.2. Exactly one record exists per (hazard, client) pair; records are
// append-only and never mutated. The JSON form is also the live push payload.
type AlertRecord struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	HazardID    string    `json:"hazard_id"`
	Sender      string    `json:"sender"`
	SentAt      time.Time `json:"sent"`
	Status      string    `json:"status"`
	MsgType     string    `json:"msgType"`
	Scope       string    `json:"scope"`
	Category    string    `json:"category"`
	Event       string    `json:"event"`
	Urgency     string    `json:"urgency,omitempty"`
	Severity    string    `json:"severity,omitempty"`
	Certainty   string    `json:"certainty,omitempty"`
	Instruction string    `json:"instruction,omitempty"`
	AreaDesc    string    `json:"areaDesc,omitempty"`
	Circle      string    `json:"circle,omitempty"` // CAP point-radius form: "{lat},{lon} 30"
	Pin         *Geo      `json:"pin,omitempty"`    // the matched point, not the hazard
	Zone        string    `json:"zone,omitempty"`   // set for zone matches instead of Pin
	CreatedAt   time.Time `json:"created_at"`       // hazard creation time
}

// RefreshMessage is the broadcast control hint telling connected clients to
// re-pull the hazard list. Cheap and idempotent; never written to the alert
// log.
type RefreshMessage struct {
	Refresh bool `json:"refresh"`
}

// CAP 1.2 document shape for the XML backlog variant.
type capAlert struct {
	XMLName    xml.Name `xml:"alert"`
	XMLNS      string   `xml:"xmlns,attr"`
	Identifier string   `xml:"identifier"`
	Sender     string   `xml:"sender"`
	Sent       string   `xml:"sent"`
	Status     string   `xml:"status"`
	MsgType    string   `xml:"msgType"`
	Scope      string   `xml:"scope"`
	Info       capInfo  `xml:"info"`
}

type capInfo struct {
	Category    string  `xml:"category"`
	Event       string  `xml:"event"`
	Urgency     string  `xml:"urgency,omitempty"`
	Severity    string  `xml:"severity,omitempty"`
	Certainty   string  `xml:"certainty,omitempty"`
	Instruction string  `xml:"instruction,omitempty"`
	Area        capArea `xml:"area"`
}

type capArea struct {
	AreaDesc string `xml:"areaDesc"`
	Circle   string `xml:"circle,omitempty"`
	Pin      string `xml:"pin,omitempty"`
}

// CAPXML renders the record as a standalone CAP 1.2 XML document.
func CAPXML(record AlertRecord) ([]byte, error) {
	doc := capAlert{
		XMLNS:      capXMLNS,
		Identifier: record.ID,
		Sender:     record.Sender,
		Sent:       record.SentAt.Format(time.RFC3339),
		Status:     record.Status,
		MsgType:    record.MsgType,
		Scope:      record.Scope,
		Info: capInfo{
			Category:    record.Category,
			Event:       record.Event,
			Urgency:     record.Urgency,
			Severity:    record.Severity,
			Certainty:   record.Certainty,
			Instruction: record.Instruction,
			Area: capArea{
				AreaDesc: record.AreaDesc,
				Circle:   record.Circle,
			},
		},
	}
	if record.Pin != nil {
		doc.Info.Area.Pin = fmt.Sprintf("%g,%g", record.Pin.Lat, record.Pin.Lon)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal cap alert %s: %w", record.ID, err)
	}
	return append([]byte(xml.Header), out...), nil
}
