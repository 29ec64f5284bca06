package handlers

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"html/template"
	"net/http"
)

//go:embed openapi.json
var openAPISpec []byte

const openAPIPath = "/v1/openapi.json"

type docsPage struct {
	Title       string
	Version     string
	Description string
	SpecURL     string
}

var docsTemplate = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8" />
    <title>{{.Title}} {{.Version}}</title>
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <meta name="description" content="{{.Description}}" />
    <style>body { margin: 0; } redoc { display: block; height: 100vh; }</style>
  </head>
  <body>
    <noscript>{{.Title}}: the machine-readable document is at <a href="{{.SpecURL}}">{{.SpecURL}}</a>.</noscript>
    <redoc spec-url="{{.SpecURL}}" hide-download-button="false" expand-responses="200,201,202"></redoc>
    <script src="https://cdn.jsdelivr.net/npm/redoc@2.2.0/bundles/redoc.standalone.js"></script>
  </body>
</html>
`))

// docs is rendered once from the embedded document's info block.
var docs = renderDocs(openAPISpec)

func renderDocs(spec []byte) []byte {
	page := docsPage{Title: "Creation Studio API", SpecURL: openAPIPath}
	var doc struct {
		Info struct {
			Title       string `json:"title"`
			Version     string `json:"version"`
			Description string `json:"description"`
		} `json:"info"`
	}
	if err := json.Unmarshal(spec, &doc); err == nil {
		if doc.Info.Title != "" {
			page.Title = doc.Info.Title
		}
		page.Version = doc.Info.Version
		page.Description = doc.Info.Description
	}
	var buf bytes.Buffer
	if err := docsTemplate.Execute(&buf, page); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func (a *App) OpenAPIJSON(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPISpec)
}

func (a *App) OpenAPIDocs(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(docs)
}
