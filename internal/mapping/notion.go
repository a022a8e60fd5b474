package mapping

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brandtrace/ownership-cli/pkg/notion"
)

// LoadFromNotion queries the Notion mapping database for all active
// brand mappings. Pages that fail to parse are skipped with a warning so
// one bad row cannot take down the registry.
func LoadFromNotion(ctx context.Context, client notion.Client, dbID string) ([]Mapping, error) {
	filter := &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: "Status",
			Status: &notionapi.StatusFilterCondition{
				Equals: "Active",
			},
		},
	}

	pages, err := notion.QueryAll(ctx, client, dbID, filter)
	if err != nil {
		return nil, eris.Wrap(err, "mapping: load notion registry")
	}

	var mappings []Mapping
	for _, p := range pages {
		m, err := parseMappingPage(p)
		if err != nil {
			zap.L().Warn("mapping: skipping malformed page",
				zap.String("page_id", string(p.ID)),
				zap.Error(err),
			)
			continue
		}
		mappings = append(mappings, m)
	}

	return mappings, nil
}

func parseMappingPage(p notionapi.Page) (Mapping, error) {
	var m Mapping

	// Brand (title)
	if prop, ok := p.Properties["Brand"]; ok {
		if tp, ok := prop.(*notionapi.TitleProperty); ok {
			m.Brand = plainText(tp.Title)
		}
	}

	// Owner (rich_text)
	if prop, ok := p.Properties["Owner"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			m.Owner = plainText(rtp.RichText)
		}
	}

	// Country (rich_text, ISO code of the ultimate owner)
	if prop, ok := p.Properties["Country"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			m.Country = plainText(rtp.RichText)
		}
	}

	// Confidence (number, optional per-row override)
	if prop, ok := p.Properties["Confidence"]; ok {
		if np, ok := prop.(*notionapi.NumberProperty); ok {
			m.Confidence = int(np.Number)
		}
	}

	// Chain (rich_text, " > " separated intermediates)
	if prop, ok := p.Properties["Chain"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			m.Chain = splitChain(plainText(rtp.RichText))
		}
	}

	// SourceURL (url)
	if prop, ok := p.Properties["SourceURL"]; ok {
		if up, ok := prop.(*notionapi.URLProperty); ok {
			m.SourceURL = up.URL
		}
	}

	// Notes (rich_text)
	if prop, ok := p.Properties["Notes"]; ok {
		if rtp, ok := prop.(*notionapi.RichTextProperty); ok {
			m.Notes = plainText(rtp.RichText)
		}
	}

	m.UpdatedAt = p.LastEditedTime

	if m.Brand == "" {
		return m, eris.New("missing Brand property")
	}
	if m.Owner == "" {
		return m, eris.New("missing Owner property")
	}

	return m, nil
}

// splitChain parses "Holding A > Holding B" into its parts.
func splitChain(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ">")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// plainText concatenates the plain_text values from a slice of RichText.
func plainText(rts []notionapi.RichText) string {
	var s string
	for _, rt := range rts {
		s += rt.PlainText
	}
	return s
}
