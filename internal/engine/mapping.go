package engine

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	bdoc "github.com/blevesearch/bleve/v2/document"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	index "github.com/blevesearch/bleve_index_api"
	"github.com/google/uuid"

	"github.com/Aman-CERP/docsearch/internal/document"
	"github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/schema"
)

const (
	// IDAnalyzerName keeps an ID value as one lower-cased token.
	IDAnalyzerName = "id_keyword"

	textAnalyzerName = standard.Name
	allField         = "_all"
)

// newMapping derives the bleve mapping for s. Documents are built by hand,
// so the mapping only drives query-time analysis of known fields.
func newMapping(s *schema.Schema) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()
	err := im.AddCustomAnalyzer(IDAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add id analyzer: %w", err)
	}
	im.DefaultAnalyzer = textAnalyzerName

	for _, f := range s.Fields() {
		var fm *mapping.FieldMapping
		switch f.Type {
		case schema.TypeLong, schema.TypeDouble:
			fm = bleve.NewNumericFieldMapping()
		case schema.TypeID:
			fm = bleve.NewTextFieldMapping()
			fm.Analyzer = IDAnalyzerName
		default:
			fm = bleve.NewTextFieldMapping()
			fm.Analyzer = textAnalyzerName
		}
		fm.Store = f.Stored
		fm.Index = f.Indexed
		im.DefaultMapping.AddFieldMappingsAt(f.Name, fm)
	}
	return im, nil
}

// buildDocument turns doc into a bleve document with a fresh internal ID.
// Fields that are neither stored nor indexed are left out; nil means no
// field survived.
func (e *StandaloneEngine) buildDocument(s *schema.Schema, doc *document.Document) (*bdoc.Document, error) {
	out := bdoc.NewDocument(uuid.NewString())
	var numeric []string

	for _, f := range doc.Fields() {
		spec, ok := s.Field(f.Name)
		if !ok {
			continue
		}
		if !spec.Type.Accepts(f.Value) {
			return nil, errors.ValidationFailure(fmt.Sprintf("field [%s] of type [%s] cannot accept value [%s]", spec.Name, spec.Type, f.Value.Text())).
				WithDetail("field", spec.Name)
		}

		var opts index.FieldIndexingOptions
		if spec.Indexed {
			opts |= index.IndexField
		}
		if spec.Stored {
			opts |= index.StoreField
		}
		if opts == 0 {
			continue
		}

		switch spec.Type {
		case schema.TypeLong, schema.TypeDouble:
			n, _ := f.Value.Float64()
			out.AddField(bdoc.NewNumericFieldWithIndexingOptions(spec.Name, nil, n, opts))
			numeric = append(numeric, spec.Name)
		case schema.TypeID:
			// A single token, but phrase queries need its position
			if spec.Indexed {
				opts |= index.IncludeTermVectors
			}
			out.AddField(bdoc.NewTextFieldCustom(spec.Name, nil, []byte(f.Value.Text()), opts, e.idAnalyzer))
		default:
			if spec.Indexed {
				opts |= index.IncludeTermVectors
			}
			out.AddField(bdoc.NewTextFieldCustom(spec.Name, nil, []byte(f.Value.Text()), opts, e.textAnalyzer))
		}
	}

	if len(out.Fields) == 0 {
		return nil, nil
	}
	out.AddField(bdoc.NewCompositeFieldWithIndexingOptions(allField, true, nil, numeric,
		index.IndexField|index.IncludeTermVectors))
	return out, nil
}

// idQuery ANDs an exact match on every ID field of s present in terms.
// It returns nil when terms carries no ID field.
func idQuery(s *schema.Schema, terms *document.Document) query.Query {
	values := make(map[string]document.Value, terms.Len())
	for _, f := range terms.Fields() {
		values[schema.NormalizeName(f.Name)] = f.Value
	}

	var clauses []query.Query
	for _, name := range s.IDFields() {
		v, ok := values[name]
		if !ok {
			continue
		}
		tq := bleve.NewTermQuery(strings.ToLower(v.Text()))
		tq.SetField(name)
		clauses = append(clauses, tq)
	}
	if len(clauses) == 0 {
		return nil
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return bleve.NewConjunctionQuery(clauses...)
}

// parseQuery parses query-string syntax. An empty string matches everything.
func parseQuery(q string) (query.Query, error) {
	if strings.TrimSpace(q) == "" {
		return bleve.NewMatchAllQuery(), nil
	}
	parsed, err := query.NewQueryStringQuery(q).Parse()
	if err != nil {
		return nil, errors.InvalidQuery(fmt.Sprintf("cannot parse query [%s]", q), err)
	}
	return parsed, nil
}
