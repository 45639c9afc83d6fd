package export

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"num": func(v float64) string {
		return fmt.Sprintf("%.2f", v)
	},
	"inc": func(i int) int {
		return i + 1
	},
}).Parse(reportTemplateHTML))

func renderReportHTML(report *Report) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html lang="de">
<head>
<meta charset="utf-8">
<title>{{.PlanningTitle}}</title>
<style>
  body { font-family: -apple-system, "Segoe UI", sans-serif; color: #1a1a1a; margin: 0; }
  h1 { font-size: 22px; margin-bottom: 2px; }
  .meta { color: #666; font-size: 12px; margin-bottom: 24px; }
  table { width: 100%; border-collapse: collapse; font-size: 12px; }
  th { text-align: left; border-bottom: 2px solid #1a1a1a; padding: 6px 8px; }
  td { border-bottom: 1px solid #ddd; padding: 6px 8px; }
  td.num, th.num { text-align: right; font-variant-numeric: tabular-nums; }
  tr:nth-child(even) td { background: #f7f7f7; }
  .status { display: inline-block; padding: 1px 6px; border-radius: 3px; background: #eee; font-size: 11px; }
  @page { size: letter; }
</style>
</head>
<body>
<h1>Priorisierung: {{.PlanningTitle}}</h1>
<div class="meta">{{.ProjectName}} &middot; Stand {{formatDate .GeneratedAt "02.01.2006 15:04"}} UTC</div>
<table>
  <thead>
    <tr>
      <th class="num">#</th>
      <th>Feature</th>
      <th>Status</th>
      <th class="num">Gesch&auml;ftswert</th>
      <th class="num">Zeitkritikalit&auml;t</th>
      <th class="num">Risiko/Chance</th>
      <th class="num">Aufwand</th>
      <th class="num">Score</th>
    </tr>
  </thead>
  <tbody>
    {{range $i, $row := .Rows}}
    <tr>
      <td class="num">{{inc $i}}</td>
      <td>{{$row.Title}}</td>
      <td><span class="status">{{$row.StatusLabel}}</span></td>
      <td class="num">{{num $row.BusinessValue}}</td>
      <td class="num">{{num $row.TimeCriticality}}</td>
      <td class="num">{{num $row.RiskOpportunity}}</td>
      <td class="num">{{num $row.Effort}} {{$row.EffortUnit}}</td>
      <td class="num">{{num $row.Score}}</td>
    </tr>
    {{end}}
  </tbody>
</table>
</body>
</html>`
