package api

const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="referrer" content="same-origin" />
  <meta name="viewport" content="width=device-width, initial-scale=1, shrink-to-fit=no" />
  <title>tablease broker API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
</head>
<body style="height: 100vh; margin: 0; position: relative;">
  <a href="/docs/events" style="
    position: fixed;
    top: 12px;
    right: 16px;
    z-index: 9999;
    background: #161b22;
    border: 1px solid #30363d;
    border-radius: 6px;
    color: #58a6ff;
    font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif;
    font-size: 12px;
    font-weight: 500;
    padding: 5px 12px;
    text-decoration: none;
  ">Event Stream Docs →</a>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`

const eventsDocsHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Event stream - tablease broker</title>
  <style>
    body {
      margin: 0 auto;
      max-width: 860px;
      padding: 32px 16px 64px;
      font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
      font-size: 14px;
      line-height: 1.65;
      background: #0d1117;
      color: #c9d1d9;
    }
    a { color: #58a6ff; text-decoration: none; }
    h1, h2 { color: #e6edf3; font-weight: 600; }
    h2 { border-bottom: 1px solid #21262d; padding-bottom: 8px; margin-top: 36px; }
    table { width: 100%; border-collapse: collapse; font-size: 13px; }
    th { text-align: left; padding: 8px 12px; background: #161b22; color: #8b949e; border-bottom: 1px solid #30363d; }
    td { padding: 8px 12px; border-bottom: 1px solid #21262d; vertical-align: top; }
    code, pre { font-family: "SFMono-Regular", Consolas, Menlo, monospace; font-size: 12px; background: #161b22; border: 1px solid #30363d; border-radius: 4px; }
    code { padding: 1px 5px; }
    pre { padding: 12px 16px; overflow-x: auto; }
  </style>
</head>
<body>
  <p><a href="/docs">← REST API</a></p>
  <h1>Event stream</h1>
  <p>Server-sent events for ownership and connection changes.</p>
  <pre>GET /api/v1/events?feeds=claims,sessions</pre>

  <h2>Feeds</h2>
  <table>
    <tr><th>Feed</th><th>Kinds</th><th>Fields</th></tr>
    <tr><td><code>claims</code></td><td><code>claimed</code>, <code>released</code></td><td><code>tabId</code>, <code>sessionId</code>, <code>reason</code> (<code>released</code>, <code>forced</code>, <code>disconnected</code>, <code>expired</code>, <code>call failed</code>, <code>tab closed</code>)</td></tr>
    <tr><td><code>sessions</code></td><td><code>connected</code>, <code>disconnected</code></td><td><code>sessionId</code></td></tr>
    <tr><td><code>upstream</code></td><td><code>connected</code>, <code>disconnected</code>, <code>replaced</code></td><td>none</td></tr>
  </table>

  <h2>Example</h2>
  <pre>curl -N http://127.0.0.1:8188/api/v1/events?feeds=claims

event: claims
data: {"feed":"claims","kind":"claimed","tabId":5,"sessionId":"A","at":"2026-01-02T15:04:05Z"}</pre>
  <p>Slow consumers have events dropped rather than stalling the broker.</p>
</body>
</html>`
