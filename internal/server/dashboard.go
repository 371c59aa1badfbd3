package server

import "net/http"

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>dmvwatch</title>
<style>
  body { font-family: -apple-system, "Segoe UI", Roboto, sans-serif; margin: 0; background: #f4f5f7; color: #1d2330; }
  header { background: #1d2330; color: #fff; padding: 16px 24px; }
  header h1 { margin: 0; font-size: 20px; }
  main { max-width: 960px; margin: 24px auto; padding: 0 16px; }
  .meta { color: #667; font-size: 13px; margin-bottom: 16px; }
  .grid { display: grid; grid-template-columns: repeat(auto-fill, minmax(280px, 1fr)); gap: 12px; }
  .card { background: #fff; border-radius: 8px; padding: 14px 16px; box-shadow: 0 1px 3px rgba(0,0,0,.08); }
  .card h3 { margin: 0 0 6px; font-size: 15px; }
  .badge { display: inline-block; padding: 2px 8px; border-radius: 10px; font-size: 12px; font-weight: 600; }
  .yes { background: #d9f2e3; color: #17703c; }
  .no { background: #eceef1; color: #667; }
  ul.slots { margin: 8px 0 0; padding-left: 18px; font-size: 13px; color: #445; }
  section.subscribe { background: #fff; border-radius: 8px; padding: 16px; margin-top: 24px; box-shadow: 0 1px 3px rgba(0,0,0,.08); }
  section.subscribe h2 { margin-top: 0; font-size: 16px; }
  input, select, button { font: inherit; padding: 6px 10px; border: 1px solid #ccd; border-radius: 6px; }
  select { min-height: 110px; }
  button { background: #1d2330; color: #fff; border: none; cursor: pointer; }
  #subStatus { font-size: 13px; margin-left: 8px; }
</style>
</head>
<body>
<header><h1>dmvwatch &mdash; appointment availability</h1></header>
<main>
  <div class="meta" id="meta">Loading&hellip;</div>
  <div class="grid" id="results"></div>

  <section class="subscribe">
    <h2>Email alerts</h2>
    <form id="subForm">
      <input type="email" id="subEmail" placeholder="you@example.com" required>
      <input type="password" id="subToken" placeholder="admin token" required>
      <select id="subOffices" multiple></select>
      <button type="submit">Subscribe</button>
      <button type="button" id="subRemove">Unsubscribe</button>
      <span id="subStatus"></span>
    </form>
  </section>
</main>
<script>
async function refresh() {
  const res = await fetch('/api/results');
  const snap = await res.json();
  const meta = document.getElementById('meta');
  meta.textContent = snap.at && snap.at !== '0001-01-01T00:00:00Z'
    ? 'Last check: ' + new Date(snap.at).toLocaleString()
    : 'No check has completed yet.';
  const grid = document.getElementById('results');
  grid.innerHTML = '';
  for (const r of snap.results || []) {
    const card = document.createElement('div');
    card.className = 'card';
    const badge = r.available
      ? '<span class="badge yes">available (' + r.count + ')</span>'
      : '<span class="badge no">none</span>';
    let slots = '';
    if (r.available && (r.samples || []).length) {
      slots = '<ul class="slots">' + r.samples.map(s => '<li>' + esc(s) + '</li>').join('') + '</ul>';
    }
    const title = r.url
      ? '<a href="' + encodeURI(r.url) + '" target="_blank" rel="noopener">' + esc(r.office) + '</a>'
      : esc(r.office);
    card.innerHTML = '<h3>' + title + '</h3>' + badge + slots;
    grid.appendChild(card);
  }
}

async function loadOffices() {
  const res = await fetch('/api/offices');
  const body = await res.json();
  const sel = document.getElementById('subOffices');
  sel.innerHTML = '';
  for (const o of body.offices || []) {
    const opt = document.createElement('option');
    opt.value = o.name;
    opt.textContent = o.name;
    sel.appendChild(opt);
  }
}

function esc(s) {
  const d = document.createElement('div');
  d.textContent = s;
  return d.innerHTML;
}

function setStatus(msg, ok) {
  const el = document.getElementById('subStatus');
  el.textContent = msg;
  el.style.color = ok ? '#17703c' : '#b4232c';
}

function authHeaders() {
  return {
    'Content-Type': 'application/json',
    'Authorization': 'Bearer ' + document.getElementById('subToken').value
  };
}

document.getElementById('subForm').addEventListener('submit', async ev => {
  ev.preventDefault();
  const email = document.getElementById('subEmail').value;
  const offices = Array.from(document.getElementById('subOffices').selectedOptions).map(o => o.value);
  const res = await fetch('/api/subscriptions', {
    method: 'POST',
    headers: authHeaders(),
    body: JSON.stringify({email, offices})
  });
  const body = await res.json();
  setStatus(res.ok ? 'Subscribed to ' + body.offices.length + ' office(s).' : body.error, res.ok);
});

document.getElementById('subRemove').addEventListener('click', async () => {
  const email = document.getElementById('subEmail').value;
  if (!email) { setStatus('Enter an email first.', false); return; }
  const res = await fetch('/api/subscriptions', {
    method: 'DELETE',
    headers: authHeaders(),
    body: JSON.stringify({email})
  });
  const body = await res.json();
  setStatus(res.ok ? 'Unsubscribed.' : body.error, res.ok);
});

refresh();
loadOffices();
setInterval(refresh, 30000);
</script>
</body>
</html>
`
