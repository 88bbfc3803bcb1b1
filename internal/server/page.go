package server

import (
	"html/template"
	"log"
	"net/http"
)

// pageData feeds the front page template.
type pageData struct {
	Models       []modelInfo
	DefaultLimit int
	MaxLimit     int
	MaxSequences int
	Version      string
}

// handleIndex serves the search page on GET /.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	list := s.registry.List()
	infos := make([]modelInfo, len(list))
	for i, m := range list {
		infos[i] = modelInfo{
			Name:    m.Name,
			Default: m.Name == s.config.Search.DefaultModel,
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(w, pageData{
		Models:       infos,
		DefaultLimit: s.config.Search.DefaultLimit,
		MaxLimit:     s.config.Search.MaxLimit,
		MaxSequences: s.config.Search.MaxSequences,
	})
	if err != nil {
		log.Printf("[Server] Failed to render index page: %v", err)
	}
}

var indexTemplate = template.Must(template.New("index").Funcs(template.FuncMap{
	"seq": func(n int) []int {
		out := make([]int, n)
		for i := range out {
			out[i] = i + 1
		}
		return out
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Taxonomy Identification</title>
<style>
body { font-family: sans-serif; max-width: 60rem; margin: 2rem auto; padding: 0 1rem; }
textarea { width: 100%; height: 14rem; font-family: monospace; }
table { border-collapse: collapse; margin-top: 1rem; width: 100%; }
th, td { border: 1px solid #ccc; padding: 0.3rem 0.6rem; text-align: left; }
th { background: #f0f0f0; }
#status { color: #666; margin: 0.5rem 0; }
.error { color: #b00; }
</style>
</head>
<body>
<h1>Taxonomy Identification</h1>
<p>Paste or upload up to {{.MaxSequences}} ITS sequences in FASTA format.</p>
<textarea id="fasta" placeholder="&gt;SEQ_1&#10;ACGT..."></textarea>
<p>
<label>FASTA files
<input type="file" id="files" multiple accept=".fasta,.fa,.fna,.txt">
</label>
</p>
<p>
<label>Model
<select id="model">
{{range .Models}}<option value="{{.Name}}"{{if .Default}} selected{{end}}>{{.Name}}</option>
{{end}}</select>
</label>
<label>Matches per rank
<select id="limit">
{{$default := .DefaultLimit}}{{range $n := seq .MaxLimit}}<option value="{{$n}}"{{if eq $n $default}} selected{{end}}>{{$n}}</option>
{{end}}</select>
</label>
<button id="run">Identify</button>
</p>
<div id="status"></div>
<div id="out"></div>
<script>
const statusEl = document.getElementById('status');
const outEl = document.getElementById('out');

document.getElementById('run').addEventListener('click', async () => {
  // Pasted text and uploaded files are concatenated into one FASTA batch.
  const parts = [];
  const pasted = document.getElementById('fasta').value.trim();
  if (pasted) parts.push(pasted);
  for (const f of document.getElementById('files').files) {
    parts.push((await f.text()).trim());
  }
  const req = {
    fasta: parts.join('\n'),
    model: document.getElementById('model').value,
    limit: parseInt(document.getElementById('limit').value, 10)
  };
  outEl.innerHTML = '';
  statusEl.textContent = 'Searching...';
  statusEl.className = '';

  const proto = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const ws = new WebSocket(proto + '//' + location.host + '/ws/search');
  ws.onopen = () => ws.send(JSON.stringify(req));
  ws.onmessage = (ev) => {
    const frame = JSON.parse(ev.data);
    if (frame.type === 'progress') {
      statusEl.textContent = 'Processed ' + frame.done + ' of ' + frame.total + ' sequences (' + frame.sequence_id + ')';
    } else if (frame.type === 'result') {
      statusEl.textContent = 'Done.';
      render(frame.id, frame.result);
      ws.close();
    } else if (frame.type === 'error') {
      statusEl.textContent = frame.message;
      statusEl.className = 'error';
      ws.close();
    }
  };
  ws.onerror = () => {
    statusEl.textContent = 'Connection failed.';
    statusEl.className = 'error';
  };
});

// esc HTML-escapes untrusted result text (FASTA IDs and reference labels)
// before it reaches innerHTML.
function esc(s) {
  return String(s).replace(/[&<>"']/g, c => ({
    '&': '&amp;', '<': '&lt;', '>': '&gt;', '"': '&quot;', "'": '&#39;'
  }[c]));
}

function render(id, result) {
  let html = '<p><a href="/api/search/csv?id=' + encodeURIComponent(id) + '">Download CSV</a></p>';
  html += '<table><tr><th>Sequence</th>';
  for (const rank of result.ranks) html += '<th>' + esc(rank) + '</th>';
  html += '</tr>';
  for (const seq of result.sequences) {
    html += '<tr><td>' + esc(seq.id) + '</td>';
    for (const rank of result.ranks) {
      const matches = (seq.ranks[rank] || [])
        .map(m => esc(m.label) + ' (' + esc(m.hit_id) + ';' + m.similarity.toFixed(3) + ')')
        .join('<br>');
      html += '<td>' + matches + '</td>';
    }
    html += '</tr>';
  }
  html += '</table>';
  if (result.unprocessed && result.unprocessed.length) {
    html += '<p class="error">Unprocessed sequences: ' + esc(result.unprocessed.join(', ')) + '</p>';
  }
  outEl.innerHTML = html;
}
</script>
</body>
</html>
`))
