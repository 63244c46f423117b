package assembler

import (
	"fmt"
	"strings"

	"github.com/alfassa/alfaai-gateway/internal/retrieval"
	"github.com/alfassa/alfaai-gateway/internal/utils"
)

const (
	ArticleProvider = "alfassa_db"
	ArticleModel    = "retrieval"
	FormatMarkdown  = "markdown"
	FormatPlain     = "plain"

	articleItemSnippet = 260
)

// ArticleResponse renders the markdown reply for an article request.
func ArticleResponse(query string, articles []retrieval.Article) string {
	if len(articles) == 0 {
		return fmt.Sprintf("## Articoli ALFASSA\n\nNon ho trovato articoli pertinenti alla richiesta: **%s**.\n"+
			"Prova a usare un titolo o una parola chiave più specifica.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Articoli ALFASSA pertinenti\n\nHo trovato **%d** contenuti relativi a “%s”. Ecco i migliori:\n\n", len(articles), query)
	items := make([]string, 0, len(articles))
	for i, a := range articles {
		var item strings.Builder
		fmt.Fprintf(&item, "%d. **%s** — _%s_", i+1, a.Title, utils.SafeHost(a.URL))
		if a.Date != "" {
			fmt.Fprintf(&item, " (%s)", a.Date)
		}
		if excerpt := utils.Snippet(a.Excerpt, articleItemSnippet); excerpt != "" {
			item.WriteString("\n   > " + excerpt)
		}
		fmt.Fprintf(&item, "\n   [Apri l’articolo →](%s)", a.URL)
		items = append(items, item.String())
	}
	b.WriteString(strings.Join(items, "\n\n"))
	return b.String()
}
