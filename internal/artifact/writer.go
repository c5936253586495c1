// Package artifact emits the analysis results as the text files consumed by
// the fuzzing runtime, plus the rewritten module. Rows follow the analyzer's
// deterministic block iteration order so downstream tools can join by block
// id. Any I/O failure aborts the run; partially written files are invalid.
package artifact

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zjy-dev/cbi/internal/analysis"
)

// Writer emits all artefacts into a single output directory.
type Writer struct {
	OutDir string
}

// WriteAll emits distance.txt, functions.txt, targets.txt,
// condition_info.txt and dm.csv.
func (w Writer) WriteAll(s *analysis.State) error {
	if err := w.writeDistanceAndFunctions(s); err != nil {
		return err
	}
	if err := w.writeConditionInfo(s); err != nil {
		return err
	}
	return w.writeDistanceMatrix(s)
}

// WriteModule saves the rewritten module into the output directory as
// "<stem>.ci.bc", where stem is the input's base name without extension.
func (w Writer) WriteModule(s *analysis.State, inputPath string) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outPath := filepath.Join(w.OutDir, stem+".ci.bc")
	if err := s.Mod.Save(outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

func (w Writer) create(name string) (*os.File, error) {
	f, err := os.Create(filepath.Join(w.OutDir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// writeDistanceAndFunctions emits the per-block distance rows, the function
// index and the target index in one module sweep, mirroring the order the
// analyzer assigned the block indices in.
func (w Writer) writeDistanceAndFunctions(s *analysis.State) (err error) {
	distanceFile, err := w.create("distance.txt")
	if err != nil {
		return err
	}
	defer distanceFile.Close()
	functionFile, err := w.create("functions.txt")
	if err != nil {
		return err
	}
	defer functionFile.Close()
	targetFile, err := w.create("targets.txt")
	if err != nil {
		return err
	}
	defer targetFile.Close()

	dist := bufio.NewWriter(distanceFile)
	funcs := bufio.NewWriter(functionFile)
	targets := bufio.NewWriter(targetFile)

	fmt.Fprintf(dist, "%d\n", s.NumCritical)
	fmt.Fprintf(targets, "%d\n", s.NumTargets)

	funcID := 0
	for _, fn := range s.Mod.Funcs {
		instrumented := false
		for _, bb := range fn.Blocks {
			d, ok := s.ScaledDistance(bb)
			if !ok {
				continue
			}
			instrumented = true

			bbID := s.AllIdx[bb]

			// Non-critical blocks report -1 in the critical index column
			// and keep their row; only blocks without a known distance
			// are left out of the file.
			criticalCol := "-1"
			if idx, ok := s.CriticalIdx[bb]; ok {
				criticalCol = strconv.Itoa(idx)
			}
			fmt.Fprintf(dist, "%d %s %d %s\n", bbID, criticalCol, d, bb.DebugLoc(fn))

			if d == 0 {
				if targetIdx, ok := s.TargetIdx[bb]; ok {
					score := s.Targets[bb].Target.Score
					fmt.Fprintf(targets, "%d %v %s\n", targetIdx, score, bb.DebugLoc(fn))
				}
			}
		}

		if instrumented {
			fmt.Fprintf(funcs, "%d %s\n", funcID, fn.DebugLoc())
			funcID++
		}
	}

	for name, buf := range map[string]*bufio.Writer{
		"distance.txt": dist, "functions.txt": funcs, "targets.txt": targets,
	} {
		if err := buf.Flush(); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

// writeConditionInfo emits one row per recorded branch condition.
func (w Writer) writeConditionInfo(s *analysis.State) error {
	file, err := w.create("condition_info.txt")
	if err != nil {
		return err
	}
	defer file.Close()

	buf := bufio.NewWriter(file)
	for _, cond := range s.Conds {
		criticalCol := "none"
		if len(s.Critical[cond.BB]) > 0 {
			criticalCol = strconv.Itoa(s.AllIdx[cond.BB])
		}
		fmt.Fprintf(buf, "%d %s %s %s %s %s\n",
			cond.ID, criticalCol, cond.Op1Kind, cond.Op2Kind, cond.Op1Repr, cond.Op2Repr)
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to write condition_info.txt: %w", err)
	}
	return nil
}

// writeDistanceMatrix emits the criticalBBs x targetBBs matrix with -1
// marking targets unreachable from a critical block.
func (w Writer) writeDistanceMatrix(s *analysis.State) error {
	file, err := w.create("dm.csv")
	if err != nil {
		return err
	}
	defer file.Close()

	buf := bufio.NewWriter(file)
	fmt.Fprintf(buf, "%d:%d\n", s.NumCritical, s.NumTargets)

	// Row-major int32 matrix in index order.
	matrix := make([][]int32, s.NumCritical)
	for i := range matrix {
		matrix[i] = make([]int32, s.NumTargets)
		for j := range matrix[i] {
			matrix[i][j] = -1
		}
	}
	for cbb, row := range s.CriticalIdx {
		for tbb, col := range s.TargetIdx {
			if d, ok := s.DM[cbb][tbb]; ok {
				matrix[row][col] = int32(d)
			}
		}
	}

	for _, row := range matrix {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = strconv.FormatInt(int64(v), 10)
		}
		fmt.Fprintln(buf, strings.Join(cells, ","))
	}

	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to write dm.csv: %w", err)
	}
	return nil
}
