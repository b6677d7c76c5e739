package tablewriter

// =============================================================================
// XML OUTPUT
// =============================================================================
//
// XML STRUCTURE:
//
//   <?xml version="1.0" encoding="UTF-8"?>
//   <refinedTable>
//     <entity n="1" id="E1" unit="kWh">
//       <period n="1">
//         <PeriodStart>2024-01-01T00:00:00Z</PeriodStart>
//         <PeriodEnd>2024-01-02T00:00:00Z</PeriodEnd>
//         <Quantity>12.5</Quantity>
//         <NoData>false</NoData>
//         <Correction>false</Correction>
//         <Coverage>1</Coverage>
//       </period>
//     </entity>
//     <issues>
//       <issue severity="warning" rule="row_error" row="7">unknown unit "MWh"</issue>
//     </issues>
//   </refinedTable>
//
//   Period numbering is global across entities.
//
// =============================================================================

import (
	"encoding/xml"
	"fmt"
	"os"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

type xmlTable struct {
	XMLName  xml.Name    `xml:"refinedTable"`
	Entities []xmlEntity `xml:"entity"`
	Issues   *xmlIssues  `xml:"issues,omitempty"`
}

type xmlEntity struct {
	N       int         `xml:"n,attr"`
	ID      string      `xml:"id,attr"`
	Unit    string      `xml:"unit,attr"`
	Periods []xmlPeriod `xml:"period"`
}

type xmlPeriod struct {
	N           int    `xml:"n,attr"`
	PeriodStart string `xml:"PeriodStart"`
	PeriodEnd   string `xml:"PeriodEnd"`
	Quantity    string `xml:"Quantity"`
	NoData      bool   `xml:"NoData"`
	Correction  bool   `xml:"Correction"`
	Coverage    string `xml:"Coverage"`
}

type xmlIssues struct {
	Issues []xmlIssue `xml:"issue"`
}

type xmlIssue struct {
	Severity    string `xml:"severity,attr"`
	Rule        string `xml:"rule,attr"`
	EntityID    string `xml:"entity,attr,omitempty"`
	PeriodStart string `xml:"periodStart,attr,omitempty"`
	PeriodEnd   string `xml:"periodEnd,attr,omitempty"`
	Row         string `xml:"row,attr,omitempty"`
	Message     string `xml:",chardata"`
}

// buildXML nests consecutive records of the same entity and unit under one
// entity element. Aggregated tables are already ordered that way.
func buildXML(records []types.AggregatedRecord, issues []types.ValidationIssue) xmlTable {
	var doc xmlTable
	period := 0
	for _, r := range records {
		last := len(doc.Entities) - 1
		if last < 0 || doc.Entities[last].ID != r.EntityID || doc.Entities[last].Unit != string(r.Unit) {
			doc.Entities = append(doc.Entities, xmlEntity{
				N:    len(doc.Entities) + 1,
				ID:   r.EntityID,
				Unit: string(r.Unit),
			})
			last++
		}
		period++
		doc.Entities[last].Periods = append(doc.Entities[last].Periods, xmlPeriod{
			N:           period,
			PeriodStart: r.PeriodStart.Format(timeLayout),
			PeriodEnd:   r.PeriodEnd.Format(timeLayout),
			Quantity:    r.Quantity.String(),
			NoData:      r.NoData,
			Correction:  r.Correction,
			Coverage:    r.Coverage.String(),
		})
	}

	if len(issues) > 0 {
		doc.Issues = &xmlIssues{}
		for _, is := range issues {
			cells := Issue(is)
			doc.Issues.Issues = append(doc.Issues.Issues, xmlIssue{
				Severity:    cells[0],
				Rule:        cells[1],
				EntityID:    cells[2],
				PeriodStart: cells[3],
				PeriodEnd:   cells[4],
				Row:         cells[5],
				Message:     cells[6],
			})
		}
	}
	return doc
}

func writeXML(path string, records []types.AggregatedRecord, issues []types.ValidationIssue) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(xml.Header); err != nil {
		return fmt.Errorf("failed to write XML declaration: %w", err)
	}
	enc := xml.NewEncoder(file)
	enc.Indent("", "  ")
	if err := enc.Encode(buildXML(records, issues)); err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to marshal XML: %w", err)
	}
	if _, err := file.WriteString("\n"); err != nil {
		return err
	}
	return file.Close()
}
