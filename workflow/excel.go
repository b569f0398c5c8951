package workflow

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// BuildBatchWorkbook renders the printable code report for one generated batch:
// one sheet of master (case) codes, one sheet of unit codes. This is the
// artifact the print shop downloads, uploaded to object storage in phase 1.
func BuildBatchWorkbook(orderNo string, batch *GeneratedBatch) (*bytes.Buffer, error) {
	f := excelize.NewFile()

	masterSheet := "Master Codes"
	f.SetSheetName("Sheet1", masterSheet)

	f.SetCellValue(masterSheet, "A1", "Case No")
	f.SetCellValue(masterSheet, "B1", "Master Code")
	f.SetCellValue(masterSheet, "C1", "Product")
	f.SetCellValue(masterSheet, "D1", "Variant")
	f.SetCellValue(masterSheet, "E1", "Expected Units")

	for i, m := range batch.Masters {
		row := i + 2
		f.SetCellValue(masterSheet, "A"+fmt.Sprint(row), m.CaseNo)
		f.SetCellValue(masterSheet, "B"+fmt.Sprint(row), m.Code)
		f.SetCellValue(masterSheet, "C"+fmt.Sprint(row), m.ProductCode)
		f.SetCellValue(masterSheet, "D"+fmt.Sprint(row), m.VariantCode)
		f.SetCellValue(masterSheet, "E"+fmt.Sprint(row), m.ExpectedUnitCount)
	}

	unitSheet := "Unit Codes"
	if _, err := f.NewSheet(unitSheet); err != nil {
		return nil, err
	}

	f.SetCellValue(unitSheet, "A1", "Sequence No")
	f.SetCellValue(unitSheet, "B1", "Unit Code")
	f.SetCellValue(unitSheet, "C1", "Case No")
	f.SetCellValue(unitSheet, "D1", "Product")
	f.SetCellValue(unitSheet, "E1", "Variant")
	f.SetCellValue(unitSheet, "F1", "Buffer")

	for i, u := range batch.Units {
		row := i + 2
		f.SetCellValue(unitSheet, "A"+fmt.Sprint(row), u.SequenceNo)
		f.SetCellValue(unitSheet, "B"+fmt.Sprint(row), u.Code)
		f.SetCellValue(unitSheet, "C"+fmt.Sprint(row), u.CaseNo)
		f.SetCellValue(unitSheet, "D"+fmt.Sprint(row), u.ProductCode)
		f.SetCellValue(unitSheet, "E"+fmt.Sprint(row), u.VariantCode)
		if u.IsBuffer {
			f.SetCellValue(unitSheet, "F"+fmt.Sprint(row), "Y")
		}
	}

	return f.WriteToBuffer()
}

// BatchWorkbookObjectName is the storage object key for a batch's spreadsheet.
func BatchWorkbookObjectName(businessId string, batchId int, orderNo string) string {
	return fmt.Sprintf("qr-batches/%s/batch_%d_%s.xlsx", businessId, batchId, orderNo)
}
