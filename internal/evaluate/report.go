package evaluate

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Brownie44l1/tbscan/internal/model"
)

// Report is a 2x2 confusion matrix indexed [actual][predicted].
type Report struct {
	Confusion map[string]map[string]int `json:"confusion"`
	Skipped   []Skip                    `json:"skipped"`
}

type ClassMetrics struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

type Summary struct {
	Total     int                       `json:"total"`
	Accuracy  float64                   `json:"accuracy"`
	Classes   map[string]ClassMetrics   `json:"classes"`
	Confusion map[string]map[string]int `json:"confusion"`
	Skipped   []Skip                    `json:"skipped"`
}

func NewReport() *Report {
	r := &Report{Confusion: make(map[string]map[string]int, len(Labels))}
	for _, l := range Labels {
		r.Confusion[l] = make(map[string]int, len(Labels))
	}
	return r
}

func (r *Report) Add(actual, predicted string) {
	r.Confusion[actual][predicted]++
}

func (r *Report) Total() int {
	n := 0
	for _, row := range r.Confusion {
		for _, v := range row {
			n += v
		}
	}
	return n
}

func (r *Report) Accuracy() float64 {
	total := r.Total()
	if total == 0 {
		return 0
	}
	correct := 0
	for _, l := range Labels {
		correct += r.Confusion[l][l]
	}
	return float64(correct) / float64(total)
}

func (r *Report) Metrics(label string) ClassMetrics {
	tp := r.Confusion[label][label]
	predicted, support := 0, 0
	for _, l := range Labels {
		predicted += r.Confusion[l][label]
		support += r.Confusion[label][l]
	}

	m := ClassMetrics{Support: support}
	if predicted > 0 {
		m.Precision = float64(tp) / float64(predicted)
	}
	if support > 0 {
		m.Recall = float64(tp) / float64(support)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

func (r *Report) Summary() Summary {
	s := Summary{
		Total:     r.Total(),
		Accuracy:  r.Accuracy(),
		Classes:   make(map[string]ClassMetrics, len(Labels)),
		Confusion: r.Confusion,
		Skipped:   r.Skipped,
	}
	for _, l := range Labels {
		s.Classes[l] = r.Metrics(l)
	}
	return s
}

func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "images\t%d\n", r.Total())
	fmt.Fprintf(tw, "skipped\t%d\n", len(r.Skipped))
	fmt.Fprintf(tw, "accuracy\t%.2f%%\n\n", r.Accuracy()*100)

	fmt.Fprintf(tw, "actual \\ predicted\t%s\t%s\n", model.LabelNormal, model.LabelTuberculosis)
	for _, actual := range Labels {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", actual,
			r.Confusion[actual][model.LabelNormal], r.Confusion[actual][model.LabelTuberculosis])
	}

	fmt.Fprintf(tw, "\nclass\tprecision\trecall\tf1\tsupport\n")
	for _, l := range Labels {
		m := r.Metrics(l)
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%d\n", l, m.Precision, m.Recall, m.F1, m.Support)
	}

	for _, s := range r.Skipped {
		fmt.Fprintf(tw, "skip\t%s\t%s\n", s.Path, s.Reason)
	}
	return tw.Flush()
}
