package authflow

import (
	"fmt"
	"html"
	"net/http"
)

func renderSuccess(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head>
    <title>Authorization Successful</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; display: flex; justify-content: center; align-items: center; min-height: 100vh; margin: 0; background: #f5f5f5; }
        .container { text-align: center; padding: 2rem; background: white; border-radius: 8px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
        h1 { color: #22c55e; margin-bottom: 1rem; }
        p { color: #666; }
    </style>
    <script>setTimeout(function() { window.close(); }, 2000);</script>
</head>
<body>
    <div class="container">
        <h1>&#10003; Authorization Successful!</h1>
        <p>You can close this window and return to the app.</p>
    </div>
</body>
</html>`)
}

// renderError writes a failure page. message is user-supplied or
// provider-supplied text and is always escaped.
func renderError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Authorization Failed</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; display: flex; justify-content: center; align-items: center; min-height: 100vh; margin: 0; background: #f5f5f5; }
        .container { text-align: center; padding: 2rem; background: white; border-radius: 8px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); max-width: 500px; }
        h1 { color: #ef4444; margin-bottom: 1rem; }
        p { color: #666; }
        .error { background: #fef2f2; color: #dc2626; padding: 1rem; border-radius: 4px; margin: 1rem 0; word-break: break-word; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Authorization Failed</h1>
        <div class="error">%s</div>
        <p>Please close this window and try again.</p>
    </div>
</body>
</html>`, html.EscapeString(message))
}
