package assembler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfassa/alfaai-gateway/internal/knowledge"
	"github.com/alfassa/alfaai-gateway/internal/retrieval"
	"github.com/alfassa/alfaai-gateway/internal/search"
)

func TestBuildDBContext(t *testing.T) {
	hits := []retrieval.Hit{
		{Table: "team", Data: map[string]any{"nome": "Mario Rossi", "ruolo": "CTO", "bio": "Guida il <b>team</b> IT."}},
		{Table: "wp_options", Data: map[string]any{"name": "siteurl"}},
		{Table: "app_logs", Data: map[string]any{"text": "boom"}},
		{Table: "progetti", Data: map[string]any{"codice": 42}},
		{Table: "servizi", Data: map[string]any{"title": "Cloud", "content": map[string]any{"tier": "gold"}}},
	}

	got := BuildDBContext(hits)
	want := "— NOTE INTERNE (DB):\n" +
		"• Mario Rossi — CTO — Guida il team IT.\n" +
		"• {\"codice\":42}\n" +
		"• Cloud — {\"tier\":\"gold\"}\n" +
		"\n"
	assert.Equal(t, want, got)
	assert.NotContains(t, got, "siteurl")
	assert.NotContains(t, got, "boom")
}

func TestBuildDBContextAllFiltered(t *testing.T) {
	assert.Equal(t, "", BuildDBContext(nil))
	assert.Equal(t, "", BuildDBContext([]retrieval.Hit{
		{Table: "wp_posts", Data: map[string]any{"title": "x"}},
		{Table: "user_sessions", Data: map[string]any{"title": "x"}},
		{Table: "", Data: map[string]any{"title": "x"}},
	}))
}

func TestBuildDBContextTruncatesDescription(t *testing.T) {
	long := strings.Repeat("a", 400)
	got := BuildDBContext([]retrieval.Hit{{Table: "docs", Data: map[string]any{"text": long}}})
	line := strings.TrimSuffix(strings.TrimPrefix(got, "— NOTE INTERNE (DB):\n• "), "\n\n")
	assert.Equal(t, strings.Repeat("a", 260)+"…", line)
}

func TestBuildKnowledgeContext(t *testing.T) {
	hits := []knowledge.Hit{
		{Document: knowledge.Document{Title: "Chi siamo"}, Score: 2, Snippet: "Azienda IT."},
		{Document: knowledge.Document{Title: "Servizi", Section: "Offerta"}, Score: 5, Snippet: "Cloud e sicurezza."},
		{Document: knowledge.Document{}, Score: 1, Snippet: "Varie."},
	}
	want := "— NOTE INTERNE (KNOWLEDGE):\n" +
		"• Servizi — Offerta — Cloud e sicurezza.\n" +
		"• Chi siamo — Azienda IT.\n" +
		"• Documento — Varie.\n" +
		"\n"
	assert.Equal(t, want, BuildKnowledgeContext(hits))
	assert.Equal(t, "", BuildKnowledgeContext(nil))
}

func TestAppendInternalNotes(t *testing.T) {
	assert.Equal(t, "ciao", AppendInternalNotes("ciao", ""))

	got := AppendInternalNotes("Chi è Mario?", "• nota\n")
	assert.True(t, strings.HasPrefix(got, "Chi è Mario?\n\n[CONTESTO INTERNO (NON RIVELARE):]\n• nota\n\n"))
	assert.True(t, strings.HasSuffix(got, "tono professionale.\n"))
}

func TestAppendWebSources(t *testing.T) {
	msg, sources := AppendWebSources("Domanda", []search.WebResult{
		{Title: "Notizia", URL: "https://www.example.com/a", Description: "Descrizione"},
	})
	assert.Equal(t, "Domanda\n\nUsa le seguenti FONTI WEB per rispondere. Cita in testo come [1], [2].\nFONTI:\n"+
		"[1] Notizia — https://www.example.com/a\nDescrizione\n", msg)
	require.Len(t, sources, 1)
	assert.Equal(t, "Notizia — example.com", sources[0].Title)
	assert.Equal(t, sources[0].Title, sources[0].Domain)

	msg, sources = AppendWebSources("Domanda", nil)
	assert.Equal(t, "Domanda", msg)
	assert.Nil(t, sources)
}

func TestDedupeWebSources(t *testing.T) {
	got := DedupeWebSources([]search.WebResult{
		{Title: "Primo", URL: "https://www.a.example/x", Description: "uno"},
		{Title: "Doppione", URL: "https://www.a.example/x", Description: "due"},
		{URL: "https://b.example/y"},
		{Title: "senza url"},
		{Title: strings.Repeat("lungo ", 30), URL: "https://c.example"},
	})
	require.Len(t, got, 3)
	assert.Equal(t, search.WebResult{Title: "Primo", URL: "https://www.a.example/x", Description: "uno"}, got[0])
	assert.Equal(t, "https://b.example/y", got[1].Title)
	assert.LessOrEqual(t, len([]rune(got[2].Title)), 96)
}

func TestArticleResponseEmpty(t *testing.T) {
	assert.Equal(t, "## Articoli ALFASSA\n\nNon ho trovato articoli pertinenti alla richiesta: **cloud**.\n"+
		"Prova a usare un titolo o una parola chiave più specifica.", ArticleResponse("cloud", nil))
}

func TestArticleResponse(t *testing.T) {
	got := ArticleResponse("cloud", []retrieval.Article{
		{Title: "Cloud 2024", URL: "https://www.alfassa.it/?p=1", Excerpt: "<p>Novità</p>", Date: "2024-03-01"},
		{Title: "Backup", URL: "https://alfassa.it/?p=2"},
	})
	want := "## Articoli ALFASSA pertinenti\n\nHo trovato **2** contenuti relativi a “cloud”. Ecco i migliori:\n\n" +
		"1. **Cloud 2024** — _alfassa.it_ (2024-03-01)\n   > Novità\n   [Apri l’articolo →](https://www.alfassa.it/?p=1)" +
		"\n\n" +
		"2. **Backup** — _alfassa.it_\n   [Apri l’articolo →](https://alfassa.it/?p=2)"
	assert.Equal(t, want, got)
}
