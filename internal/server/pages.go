package server

import (
	"html/template"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/hanno-ai/hanno/internal/session"
)

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}} | HAN-NO</title>
</head>
<body>
<header>
<h1>HAN-NO</h1>
{{if .Email}}<p>{{.Email}} ({{.Plan}})</p>{{end}}
</header>
<main>
<h2>{{.Title}}</h2>
{{.Body}}
</main>
</body>
</html>
`))

type pageData struct {
	Title string
	Email string
	Plan  string
	Body  template.HTML
}

func (d *Deps) renderPage(w http.ResponseWriter, r *http.Request, data pageData) {
	if sess := session.FromContext(r.Context()); sess != nil {
		data.Email = sess.Email
		data.Plan = string(sess.Subscription.Plan)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTmpl.Execute(w, data); err != nil {
		log.Error().Err(err).Str("page", data.Title).Msg("Failed to render page")
	}
}

func (d *Deps) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	d.renderPage(w, r, pageData{
		Title: "EC Site Analysis",
		Body:  `<p>ECサイト分析ツール。<a href="/login">ログイン</a>して始めましょう。</p>`,
	})
}

func (d *Deps) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	body := `<form method="post" action="/api/auth/login" id="login">
<label>Email: <input type="email" name="email" required></label>
<button type="submit">Send sign-in link</button>
</form>`
	if r.URL.Query().Get("error") != "" {
		body = `<p>リンクが無効か期限切れです。もう一度お試しください。</p>` + body
	}
	d.renderPage(w, r, pageData{Title: "Login", Body: template.HTML(body)})
}

func (d *Deps) handlePricingPage(w http.ResponseWriter, r *http.Request) {
	d.renderPage(w, r, pageData{
		Title: "Pricing",
		Body: `<ul>
<li>Lite — 無料</li>
<li>Standard — 分析履歴とPDF出力</li>
<li>Premium — Shopify連携と売上分析</li>
</ul>`,
	})
}

// handleAppPage serves the authenticated app shell. The gate has already
// required an entitled session for these paths.
func (d *Deps) handleAppPage(title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.renderPage(w, r, pageData{Title: title, Body: `<div id="app"></div>`})
	}
}
