package report

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"validator/internal/events"
)

// Event is one decoded event log line.
type Event struct {
	TS            float64        `json:"ts"`
	Event         string         `json:"event"`
	Instance      string         `json:"instance"`
	RequestID     string         `json:"request_id"`
	ReplicaID     string         `json:"replica_id"`
	Status        string         `json:"status"`
	Targets       []string       `json:"targets"`
	Discrepant    []string       `json:"discrepant"`
	NonResponding []string       `json:"non_responding"`
	WaitTime      float64        `json:"wait_time"`
	Response      map[string]any `json:"response"`
}

// Row summarizes one request of one coordinator run.
type Row struct {
	Instance      string
	RequestID     string
	Start         time.Time
	End           time.Time
	Latency       time.Duration
	Responded     []string
	Discrepant    []string
	NonResponding []string
	State         string
	Consensus     bool
	ProductID     string
	InStock       string
	Quantity      string
}

// Read decodes events, skipping blank and undecodable lines.
func Read(r io.Reader) ([]Event, int, error) {
	var out []Event
	skipped := 0
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil || e.RequestID == "" {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, skipped, sc.Err()
}

type requestKey struct {
	instance string
	id       string
}

// Summarize groups events by coordinator run and request id. Runs keep
// the order in which they first appear in the log; within a run rows are
// ordered by numeric id.
func Summarize(evs []Event) []Row {
	groups := make(map[requestKey][]Event)
	runs := make(map[string]int)
	for _, e := range evs {
		if _, ok := runs[e.Instance]; !ok {
			runs[e.Instance] = len(runs)
		}
		k := requestKey{instance: e.Instance, id: e.RequestID}
		groups[k] = append(groups[k], e)
	}

	rows := make([]Row, 0, len(groups))
	for k, group := range groups {
		row := summarize(k.id, group)
		row.Instance = k.instance
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if ri, rj := runs[rows[i].Instance], runs[rows[j].Instance]; ri != rj {
			return ri < rj
		}
		a, errA := strconv.ParseUint(rows[i].RequestID, 10, 64)
		b, errB := strconv.ParseUint(rows[j].RequestID, 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		return rows[i].RequestID < rows[j].RequestID
	})
	return rows
}

func summarize(id string, group []Event) Row {
	row := Row{RequestID: id, State: "pending"}
	var minTS, maxTS float64
	for i, e := range group {
		if i == 0 || e.TS < minTS {
			minTS = e.TS
		}
		if i == 0 || e.TS > maxTS {
			maxTS = e.TS
		}

		switch e.Event {
		case events.ResponseReceived:
			if e.Status == "accepted" {
				row.Responded = append(row.Responded, e.ReplicaID)
			}
		case events.VoteResult:
			row.State = e.Status
			row.Consensus = e.Status == "consensus_reached"
			row.Discrepant = e.Discrepant
			row.NonResponding = e.NonResponding
			if row.Consensus {
				row.ProductID, row.InStock, row.Quantity = stockFields(e.Response)
			}
		case events.RequestFinished:
			if row.State == "pending" {
				row.State = e.Status
			}
		}
	}
	row.Start = epoch(minTS)
	row.End = epoch(maxTS)
	row.Latency = row.End.Sub(row.Start)
	if !row.Consensus {
		row.ProductID, row.InStock, row.Quantity = "no consensus", "", ""
	}
	return row
}

func stockFields(response map[string]any) (productID, inStock, quantity string) {
	data, _ := response["data"].(map[string]any)
	return field(data, "product_id"), field(data, "in_stock"), field(data, "quantity")
}

func field(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func epoch(ts float64) time.Time {
	sec := int64(ts)
	return time.Unix(sec, int64((ts-float64(sec))*1e9)).UTC()
}

// Alias is the short replica label used in the tables.
func Alias(id string) string {
	return "MS" + id
}

func aliases(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = Alias(id)
	}
	return strings.Join(out, ", ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

var header = []string{
	"instance", "request_id", "start", "end", "latency_seconds", "responded", "discrepant",
	"non_responding", "state", "consensus", "product_id", "in_stock", "quantity",
}

func (r Row) record() []string {
	return []string{
		r.Instance,
		r.RequestID,
		r.Start.Format(time.RFC3339Nano),
		r.End.Format(time.RFC3339Nano),
		strconv.FormatFloat(r.Latency.Seconds(), 'f', 3, 64),
		aliases(r.Responded),
		aliases(r.Discrepant),
		aliases(r.NonResponding),
		r.State,
		yesNo(r.Consensus),
		r.ProductID,
		r.InStock,
		r.Quantity,
	}
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(r.record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var page = template.Must(template.New("summary").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Request summary</title></head>
<body>
<table border="1">
<thead><tr>{{range .Header}}<th>{{.}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr{{if not .Consensus}} style="background-color:#ffcccc"{{end}}>{{range .Cells}}<td>{{.}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

// WriteHTML writes rows as a table with failed requests highlighted.
func WriteHTML(w io.Writer, rows []Row) error {
	type htmlRow struct {
		Consensus bool
		Cells     []string
	}
	data := struct {
		Header []string
		Rows   []htmlRow
	}{Header: header}
	for _, r := range rows {
		data.Rows = append(data.Rows, htmlRow{Consensus: r.Consensus, Cells: r.record()})
	}
	return page.Execute(w, data)
}

// Generate reads the event log at path and writes metrics_summary.csv and
// metrics_summary.html into outDir.
func Generate(path, outDir string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	evs, _, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	rows := Summarize(evs)

	if err := writeFile(filepath.Join(outDir, "metrics_summary.csv"), rows, WriteCSV); err != nil {
		return nil, err
	}
	if err := writeFile(filepath.Join(outDir, "metrics_summary.html"), rows, WriteHTML); err != nil {
		return nil, err
	}
	return rows, nil
}

func writeFile(path string, rows []Row, write func(io.Writer, []Row) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f, rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
