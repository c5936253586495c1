package sched

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Matrix is the critical-to-target distance matrix loaded at fuzzer startup.
// A value of -1 marks a target unreachable from a critical block.
type Matrix struct {
	Rows int
	Cols int
	data []int32
}

// At returns the distance from critical block row to target col.
func (m *Matrix) At(row, col int) int32 {
	return m.data[row*m.Cols+col]
}

// LoadMatrix reads a dm.csv file: a "rows:cols" header followed by rows of
// comma-separated int32 values.
func LoadMatrix(path string) (*Matrix, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open matrix file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return nil, fmt.Errorf("matrix file %s is empty", path)
	}

	var rows, cols int
	if _, err := fmt.Sscanf(scanner.Text(), "%d:%d", &rows, &cols); err != nil {
		return nil, fmt.Errorf("malformed matrix header %q: %w", scanner.Text(), err)
	}
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("invalid matrix dimensions %d:%d", rows, cols)
	}

	m := &Matrix{Rows: rows, Cols: cols, data: make([]int32, rows*cols)}

	for i := 0; i < rows; i++ {
		if !scanner.Scan() {
			return nil, fmt.Errorf("matrix file %s: missing row %d", path, i)
		}
		cells := strings.Split(strings.TrimSpace(scanner.Text()), ",")
		if len(cells) != cols {
			return nil, fmt.Errorf("matrix file %s: row %d has %d cells, expected %d",
				path, i, len(cells), cols)
		}
		for j, cell := range cells {
			v, err := strconv.ParseInt(strings.TrimSpace(cell), 10, 32)
			if err != nil {
				return nil, fmt.Errorf("matrix file %s: row %d cell %d: %w", path, i, j, err)
			}
			m.data[i*cols+j] = int32(v)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading matrix file: %w", err)
	}

	return m, nil
}
