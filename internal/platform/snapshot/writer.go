package snapshot

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tealeg/xlsx"
)

// Block is one entity section of a snapshot export. Header names must carry
// the entity prefix so the block can be read back by Parse.
type Block struct {
	Header []string
	Rows   [][]string
}

// WriteCSV writes blocks one after another, separated by a blank line.
func WriteCSV(w io.Writer, blocks []Block) error {
	cw := csv.NewWriter(w)
	for i, b := range blocks {
		if i > 0 {
			if err := cw.Write([]string{""}); err != nil {
				return err
			}
		}
		if err := cw.Write(b.Header); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		for _, row := range b.Rows {
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes all blocks into the single sheet of a new workbook.
func WriteXLSX(path string, blocks []Block) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("snapshot")
	if err != nil {
		return fmt.Errorf("add sheet: %w", err)
	}
	for i, b := range blocks {
		if i > 0 {
			sheet.AddRow()
		}
		addRow(sheet, b.Header)
		for _, r := range b.Rows {
			addRow(sheet, r)
		}
	}
	if err := file.Save(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		cell := row.AddCell()
		cell.Value = v
	}
}

// WriteFile writes blocks to path, as a workbook when path ends in .xlsx and
// as CSV otherwise.
func WriteFile(path string, blocks []Block) error {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return WriteXLSX(path, blocks)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", path, err)
	}
	if err := WriteCSV(f, blocks); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
