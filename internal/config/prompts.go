package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Prompts holds the instruction texts sent to the generative model.
type Prompts struct {
	// Persona opens every assembled prompt.
	Persona string `yaml:"persona"`
	// System is passed to providers that accept a separate system message.
	System string `yaml:"system"`
	// DateRange asks the model for the date window of a question.
	DateRange string `yaml:"date_range"`
	// Quote holds the per-category summary templates of the aggregator.
	Quote QuoteTemplates `yaml:"quote"`
}

type QuoteTemplates struct {
	Stock       string `yaml:"stock"`
	Financials  string `yaml:"financials"`
	News        string `yaml:"news"`
	Description string `yaml:"description"`
	Technical   string `yaml:"technical"`
}

const defaultPersona = `You are an AI assistant named Fineas AI tasked with giving stock market alpha to retail investors by summarizing and analyzing financial information in the form of market research.
When displaying numbers, show two decimal places. Answer the prompt using structured informative headers, short paragraph segments and bullet points for the given financial data.
Attach annotation titles and urls only when they are defined within the ANNOTATIONS section, citing the source title in brackets followed by the url with no spaces, e.g. [Source Title]https://example.com.
If no annotation is available, do not reference one. Use only the CONTEXT section as your source of financial data.`

const defaultSystem = `You are an AI agent tasked with summarizing and analyzing financial information for market research.
If the data provided is not relevant or not sufficient, ask for more information.
Otherwise generate a market analysis report and categorize it as bullish, neutral, or bearish.`

const defaultDateRange = `For the following prompt, give only two comma separated dates in YYYY-MM-DD format, using no spaces, which bound the time period the prompt refers to.
If a date cannot be extrapolated use the current date. Respond with nothing else than YYYY-MM-DD,YYYY-MM-DD.`

const (
	defaultStockTemplate = `Summarize the year-to-date price performance of the asset below in one short paragraph.
Mention the opening and latest price, the high and low, and the overall trend. Use two decimal places.
`
	defaultFinancialsTemplate = `Summarize the financial health of the company below from its latest filings in one short paragraph.
Cover revenue, net income, margins, cash position and debt where present.
`
	defaultNewsTemplate = `Summarize the recent news about the asset below in a few sentences and state whether the overall sentiment is bullish, neutral or bearish.
`
	defaultDescriptionTemplate = `Describe the company below in one short paragraph: what it does, its sector, and its main products or markets.
`
	defaultTechnicalTemplate = `Summarize the technical indicators for the asset below in one short paragraph and state what they suggest about momentum.
`
)

func DefaultPrompts() *Prompts {
	return &Prompts{
		Persona:   defaultPersona,
		System:    defaultSystem,
		DateRange: defaultDateRange,
		Quote: QuoteTemplates{
			Stock:       defaultStockTemplate,
			Financials:  defaultFinancialsTemplate,
			News:        defaultNewsTemplate,
			Description: defaultDescriptionTemplate,
			Technical:   defaultTechnicalTemplate,
		},
	}
}

// LoadPrompts overlays the YAML file at path on the defaults. An empty path
// returns the defaults.
func LoadPrompts(path string) (*Prompts, error) {
	prompts := DefaultPrompts()
	if path == "" {
		return prompts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts file: %w", err)
	}
	var override Prompts
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("parsing prompts file: %w", err)
	}
	if override.Persona != "" {
		prompts.Persona = override.Persona
	}
	if override.System != "" {
		prompts.System = override.System
	}
	if override.DateRange != "" {
		prompts.DateRange = override.DateRange
	}
	overlay(&prompts.Quote.Stock, override.Quote.Stock)
	overlay(&prompts.Quote.Financials, override.Quote.Financials)
	overlay(&prompts.Quote.News, override.Quote.News)
	overlay(&prompts.Quote.Description, override.Quote.Description)
	overlay(&prompts.Quote.Technical, override.Quote.Technical)
	return prompts, nil
}

func overlay(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
