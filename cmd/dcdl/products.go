package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/libdc"
)

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "List supported dive computer models",
	Long: `List the dive computer models the native engine can download from,
with the transports each model supports.`,
	Example: `  dcdl products --vendor Shearwater
  dcdl products --transport ble --format json`,
	RunE: runProducts,
}

var (
	productsVendor    string
	productsTransport string
	productsFormat    string
	productsVerbose   bool
)

func init() {
	productsCmd.Flags().StringVar(&productsVendor, "vendor", "", "Only list models of this vendor")
	productsCmd.Flags().StringVarP(&productsTransport, "transport", "t", "", "Only list models supporting this transport")
	productsCmd.Flags().StringVarP(&productsFormat, "format", "f", "", "Output format (table, json)")
	productsCmd.Flags().BoolVar(&productsVerbose, "verbose", false, "Enable debug logging")
}

func runProducts(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	format := cfg.OutputFormat
	if productsFormat != "" {
		format = productsFormat
	}
	if err := validateFormat(format); err != nil {
		return err
	}
	var transport device.Transport
	if productsTransport != "" {
		if transport, err = device.ParseTransport(productsTransport); err != nil {
			return err
		}
	}
	cmd.SilenceUsage = true

	engine, err := EngineFactory(cfg, logger)
	if err != nil {
		return err
	}
	if engine == nil {
		return errNoEngine
	}
	defer func() { _ = engine.Close() }()

	lister, ok := engine.(productLister)
	if !ok {
		return errNoEngine
	}
	all, err := lister.Products()
	if err != nil {
		return err
	}

	var products []libdc.Product
	for _, p := range all {
		if productsVendor != "" && !strings.EqualFold(p.Vendor, productsVendor) {
			continue
		}
		if transport != device.TransportNone && !p.Transports.Has(transport) {
			continue
		}
		products = append(products, p)
	}
	return writeProducts(cmd.OutOrStdout(), format, products)
}
