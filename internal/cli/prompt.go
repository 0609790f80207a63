package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Confirm prints question and reads one answer line. Only s, sim, y and
// yes (any case) count as yes; an empty answer or end of input is no.
func Confirm(r *bufio.Reader, w io.Writer, question string) (bool, error) {
	fmt.Fprint(w, question)
	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	if errors.Is(err, io.EOF) && line == "" {
		fmt.Fprintln(w)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "s", "sim", "y", "yes":
		return true, nil
	}
	return false, nil
}

// EstimateHours is the expected duration of processing pending items.
func EstimateHours(pending, secondsPerItem int) float64 {
	return float64(pending) * float64(secondsPerItem) / 3600
}
