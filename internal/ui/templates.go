package ui

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/rolesched/pkg/model"
)

// Template functions available in all templates.
var templateFuncs = template.FuncMap{
	"ago": func(t *time.Time) string {
		if t == nil || t.IsZero() {
			return "-"
		}
		return humanize.Time(*t)
	},
	"agoRFC3339": func(s string) string {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return s
		}
		return humanize.Time(t)
	},
	"pct": func(f float64) string {
		return fmt.Sprintf("%.1f%%", f)
	},
	"over": func(v, limit float64) bool {
		return v > limit
	},
	"stateDotColor": func(rs model.RoleStatus) string {
		switch {
		case rs.Active && rs.StopRequested:
			return "bg-orange-500 animate-pulse"
		case rs.Active:
			return "bg-green-500"
		default:
			return "bg-gray-300"
		}
	},
	"stateLabel": func(rs model.RoleStatus) string {
		switch {
		case rs.Active && rs.StopRequested:
			return "stopping"
		case rs.Active:
			return "active"
		default:
			return "inactive"
		}
	},
}

// renderTemplate renders the named page inside the layout.
func renderTemplate(w io.Writer, name string, data map[string]any) error {
	content, ok := templates[name]
	if !ok {
		return fmt.Errorf("template not found: %s", name)
	}

	tmpl, err := template.New("layout").Funcs(templateFuncs).Parse(templates["layout"])
	if err != nil {
		return fmt.Errorf("parse layout: %w", err)
	}
	if _, err := tmpl.New("content").Parse(content); err != nil {
		return fmt.Errorf("parse content: %w", err)
	}
	return tmpl.Execute(w, data)
}

var templates = map[string]string{
	"layout": `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta http-equiv="refresh" content="5">
    <title>{{.Title}}</title>
    <script src="https://cdn.tailwindcss.com"></script>
</head>
<body class="bg-gray-50 min-h-screen">
    <nav class="bg-white shadow-sm border-b">
        <div class="max-w-7xl mx-auto px-4 sm:px-6 lg:px-8">
            <div class="flex h-16">
                <a href="/ui/" class="flex items-center px-2 py-2 text-xl font-bold text-indigo-600">rolesched</a>
                <div class="ml-6 flex space-x-8">
                    <a href="/ui/" class="text-gray-500 hover:text-gray-700 inline-flex items-center px-1 pt-1 text-sm font-medium">Dashboard</a>
                    <a href="/ui/locks" class="text-gray-500 hover:text-gray-700 inline-flex items-center px-1 pt-1 text-sm font-medium">Locks</a>
                </div>
            </div>
        </div>
    </nav>
    <main class="max-w-7xl mx-auto py-6 px-4 sm:px-6 lg:px-8">
        {{template "content" .}}
    </main>
</body>
</html>`,

	"dashboard": `{{define "content"}}
<div class="grid grid-cols-1 gap-5 sm:grid-cols-4 mb-8">
    {{if .Sample}}
    <div class="bg-white shadow rounded-lg p-5">
        <div class="text-sm text-gray-500">CPU</div>
        <div class="text-2xl font-semibold {{if over .Sample.CPUPercent .Thresholds.CPUPercent}}text-red-600{{end}}">{{pct .Sample.CPUPercent}}</div>
        <div class="text-xs text-gray-400">limit {{pct .Thresholds.CPUPercent}}</div>
    </div>
    <div class="bg-white shadow rounded-lg p-5">
        <div class="text-sm text-gray-500">Memory</div>
        <div class="text-2xl font-semibold {{if over .Sample.MemPercent .Thresholds.MemoryPercent}}text-red-600{{end}}">{{pct .Sample.MemPercent}}</div>
        <div class="text-xs text-gray-400">limit {{pct .Thresholds.MemoryPercent}}</div>
    </div>
    <div class="bg-white shadow rounded-lg p-5">
        <div class="text-sm text-gray-500">Disk</div>
        <div class="text-2xl font-semibold">{{pct .Sample.DiskPercent}}</div>
        <div class="text-xs text-gray-400">limit {{pct .Thresholds.DiskPercent}}</div>
    </div>
    {{else}}
    <div class="bg-white shadow rounded-lg p-5 sm:col-span-3 text-gray-500">Resources not sampled yet.</div>
    {{end}}
    <div class="bg-white shadow rounded-lg p-5">
        <div class="text-sm text-gray-500">Active roles</div>
        <div class="text-2xl font-semibold">{{.ActiveCount}}</div>
        <div class="text-xs text-gray-400">up {{.Uptime}}</div>
    </div>
</div>

<div class="bg-white shadow rounded-lg overflow-hidden">
    <table class="min-w-full divide-y divide-gray-200">
        <thead class="bg-gray-50">
            <tr>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Role</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Priority</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">State</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Est. CPU / Mem</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Queue</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Started</th>
            </tr>
        </thead>
        <tbody class="divide-y divide-gray-200">
            {{range .Roles}}
            <tr>
                <td class="px-6 py-4 text-sm font-medium text-gray-900">{{.Role}}</td>
                <td class="px-6 py-4 text-sm text-gray-500">{{.Priority}}</td>
                <td class="px-6 py-4 text-sm"><span class="inline-block w-2 h-2 rounded-full {{stateDotColor .}}"></span> {{stateLabel .}}</td>
                <td class="px-6 py-4 text-sm text-gray-500">{{pct .EstimatedCPU}} / {{pct .EstimatedMemory}}</td>
                <td class="px-6 py-4 text-sm text-gray-500">{{.QueueDepth}}</td>
                <td class="px-6 py-4 text-sm text-gray-500">{{ago .StartedAt}}</td>
            </tr>
            {{end}}
        </tbody>
    </table>
</div>
{{end}}`,

	"locks": `{{define "content"}}
{{if not .Enabled}}
<div class="bg-white shadow rounded-lg p-5 text-gray-500">File tracking is disabled.</div>
{{else}}
<h2 class="text-lg font-medium text-gray-900 mb-4">File locks</h2>
{{if .Locks}}
<div class="bg-white shadow rounded-lg overflow-hidden mb-8">
    <table class="min-w-full divide-y divide-gray-200">
        <thead class="bg-gray-50">
            <tr>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Path</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Mode</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Holder</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Workflow</th>
                <th class="px-6 py-3 text-left text-xs font-medium text-gray-500 uppercase">Acquired</th>
            </tr>
        </thead>
        <tbody class="divide-y divide-gray-200">
            {{range .Locks}}
            <tr>
                <td class="px-6 py-4 text-sm font-mono text-gray-900">{{.Path}}</td>
                <td class="px-6 py-4 text-sm text-gray-500">{{.Mode}}</td>
                <td class="px-6 py-4 text-sm text-gray-500">{{.LockedBy}}{{if gt (len .Readers) 1}} (+{{len .Readers}} readers){{end}}</td>
                <td class="px-6 py-4 text-sm text-gray-500">{{.WorkflowID}}</td>
                <td class="px-6 py-4 text-sm text-gray-500">{{agoRFC3339 .Timestamp}}</td>
            </tr>
            {{end}}
        </tbody>
    </table>
</div>
{{else}}
<p class="text-gray-500 mb-8">No file locks held.</p>
{{end}}

<h2 class="text-lg font-medium text-gray-900 mb-4">Active workflows</h2>
{{if .Workflows}}
<ul class="bg-white shadow rounded-lg divide-y divide-gray-200">
    {{range .Workflows}}
    <li class="px-6 py-4 text-sm">
        <span class="font-mono text-gray-900">{{.ID}}</span>
        <span class="text-gray-500">{{.State}}, priority {{.Priority}}, started {{agoRFC3339 .StartTime}}</span>
    </li>
    {{end}}
</ul>
{{else}}
<p class="text-gray-500">No active workflows.</p>
{{end}}
{{end}}
{{end}}`,

	"error": `{{define "content"}}
<div class="bg-red-50 border border-red-200 rounded-lg p-5 text-red-700">{{.Message}}</div>
{{end}}`,
}
