package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/reviewloop/reviewloop/internal/catalog"
)

// DefaultCatalogEntries is the compiled-in price table, used when no catalog
// file is deployed. Price IDs here match the payment platform's test mode.
func DefaultCatalogEntries() []catalog.Entry {
	return []catalog.Entry{
		{Plan: catalog.PlanStarter, Period: catalog.PeriodMonthly, PriceID: "price_starter_monthly"},
		{Plan: catalog.PlanStarter, Period: catalog.PeriodAnnual, PriceID: "price_starter_annual"},
		{Plan: catalog.PlanGrower, Period: catalog.PeriodMonthly, PriceID: "price_grower_monthly"},
		{Plan: catalog.PlanGrower, Period: catalog.PeriodAnnual, PriceID: "price_grower_annual"},
		{Plan: catalog.PlanBuilder, Period: catalog.PeriodMonthly, PriceID: "price_builder_monthly"},
		{Plan: catalog.PlanBuilder, Period: catalog.PeriodAnnual, PriceID: "price_builder_annual"},
	}
}

// NewCatalog loads the price catalog from an optional catalog.yml and builds
// the immutable resolver. The file is read once at startup; the mapping never
// changes at runtime, so a catalog gap is a deployment fix, not a reload.
func NewCatalog() (*catalog.Catalog, error) {
	v := viper.New()

	v.SetConfigName("catalog")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/reviewloop/config")
	v.AddConfigPath("/etc/reviewloop")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REVIEWLOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		return catalog.New(DefaultCatalogEntries())
	}

	var entries []catalog.Entry
	if err := v.UnmarshalKey("catalog.prices", &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		entries = DefaultCatalogEntries()
	}

	return catalog.New(entries)
}
