package counter

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/astrogo/fitsio"

	"github.com/nasa-jpl/ni660x/ctrl"
)

// WriteCSV writes a run as CSV, one column per channel and one row per sample
// index.  Channels with fewer samples leave their cells empty.
func WriteCSV(w io.Writer, run ctrl.Run) error {
	cw := csv.NewWriter(w)
	header := append([]string{"index"}, run.Channels...)
	if err := cw.Write(header); err != nil {
		return err
	}
	rows := longest(run)
	for i := 0; i < rows; i++ {
		rec := make([]string, len(run.Data)+1)
		rec[0] = strconv.Itoa(i)
		for j, d := range run.Data {
			if i < len(d) {
				rec[j+1] = strconv.FormatFloat(d[i], 'g', -1, 64)
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFITS writes a run as a 64-bit float image of (samples, channels),
// padded with NaN.  The channel names are in the CHANn header cards.  An
// empty run is a header only file.
func WriteFITS(w io.Writer, run ctrl.Run, metadata []fitsio.Card) error {
	rows := longest(run)
	nch := len(run.Data)
	for i, name := range run.Channels {
		metadata = append(metadata, fitsio.Card{
			Name:    fmt.Sprintf("CHAN%d", i+1),
			Value:   name,
			Comment: "channel of image row " + strconv.Itoa(i+1),
		})
	}
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()

	var axes []int
	if rows > 0 && nch > 0 {
		axes = []int{rows, nch}
	}
	im := fitsio.NewImage(-64, axes)
	defer im.Close()
	if err = im.Header().Append(metadata...); err != nil {
		return err
	}
	if axes == nil {
		return fits.Write(im)
	}
	buf := make([]float64, rows*nch)
	for j, d := range run.Data {
		row := buf[j*rows : (j+1)*rows]
		copy(row, d)
		for i := len(d); i < rows; i++ {
			row[i] = math.NaN()
		}
	}
	if err = im.Write(buf); err != nil {
		return err
	}
	return fits.Write(im)
}

func longest(run ctrl.Run) int {
	n := 0
	for _, d := range run.Data {
		if len(d) > n {
			n = len(d)
		}
	}
	return n
}

// HistoryCSV serves the samples delivered since the last prepare as CSV
func HistoryCSV(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=history.csv")
		if err := WriteCSV(w, c.Run()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// HistoryFITS serves the samples delivered since the last prepare as FITS
func HistoryFITS(c Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := c.Status()
		cards := []fitsio.Card{
			{Name: "CTRL", Value: st.Name, Comment: "controller"},
			{Name: "SYNC", Value: st.Synchronization.String(), Comment: "synchronization"},
			{Name: "HIGHTIME", Value: st.Session.HighTime, Comment: "gate time, s"},
			{Name: "SAMPLES", Value: st.Session.SampleCount, Comment: "samples per start"},
		}
		w.Header().Set("Content-Type", "image/fits")
		w.Header().Set("Content-Disposition", "attachment; filename=history.fits")
		if err := WriteFITS(w, c.Run(), cards); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
