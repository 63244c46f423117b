package knowledge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type sectioned struct {
	FAQs     []faq           `json:"faqs"`
	Overview *overview       `json:"overview"`
	Entities json.RawMessage `json:"entities"`
	Sistema  *struct {
		Subsystems []subsystem `json:"subsystems"`
	} `json:"sistema_di_sviluppo"`
}

type faq struct {
	ID       string     `json:"id"`
	Question string     `json:"question"`
	Answer   flexString `json:"answer"`
	Tags     []string   `json:"tags"`
}

type overview struct {
	Synopsis         string   `json:"synopsis"`
	ValueProposition string   `json:"value_proposition"`
	Keypoints        []string `json:"keypoints"`
	CorePrinciples   []string `json:"core_principles"`
}

type subsystem struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// flexString accepts either a string or a list of strings rendered as "- " lines.
type flexString struct {
	value string
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '[' {
		var items []any
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		lines := make([]string, 0, len(items))
		for _, it := range items {
			lines = append(lines, fmt.Sprint(it))
		}
		f.value = "- " + strings.Join(lines, "\n- ")
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		f.value = string(data)
		return nil
	}
	f.value = s
	return nil
}

func (f flexString) String() string { return f.value }

type entity struct {
	name string
	text string
	tags []string
}

// orderedEntities decodes the entities object keeping the file's key order.
func orderedEntities(raw json.RawMessage) ([]entity, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid entities: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil
	}

	var out []entity
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid entities: %w", err)
		}
		name, _ := keyTok.(string)

		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("invalid entity %q: %w", name, err)
		}

		e := entity{name: name}
		switch v := value.(type) {
		case []any:
			for _, item := range v {
				e.tags = append(e.tags, fmt.Sprint(item))
			}
			if e.tags == nil {
				e.tags = []string{}
			}
			e.text = strings.Join(e.tags, ", ")
		case nil:
		default:
			e.text = fmt.Sprint(v)
		}
		out = append(out, e)
	}
	return out, nil
}
