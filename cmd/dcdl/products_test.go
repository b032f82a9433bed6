package main

import (
	"strings"
	"testing"

	"github.com/srg/dcdl/internal/device"
	"github.com/srg/dcdl/internal/libdc"
	"github.com/srg/dcdl/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// listingEngine adds a descriptor table to the fake engine.
type listingEngine struct {
	*testutils.FakeEngine
	products []libdc.Product
}

func (e *listingEngine) Products() ([]libdc.Product, error) {
	return e.products, nil
}

type ProductsTestSuite struct {
	CommandTestSuite
}

func TestProductsTestSuite(t *testing.T) {
	suite.Run(t, new(ProductsTestSuite))
}

func (s *ProductsTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.Engine = &listingEngine{
		FakeEngine: &testutils.FakeEngine{},
		products: []libdc.Product{
			{Vendor: "Shearwater", Name: "Perdix", Family: 0x00A0000, Model: 5, Transports: device.TransportSerial | device.TransportBLE},
			{Vendor: "Shearwater", Name: "Petrel", Family: 0x00A0000, Model: 3, Transports: device.TransportSerial},
			{Vendor: "Suunto", Name: "EON Steel", Family: 0x0080000, Model: 0, Transports: device.TransportUSBHID | device.TransportBLE},
		},
	}
}

func (s *ProductsTestSuite) TestProducts_Table() {
	stdout, _, err := s.ExecuteCommand("products")
	s.Require().NoError(err)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	s.Require().Len(lines, 5)
	s.Equal([]string{"VENDOR", "PRODUCT", "FAMILY", "MODEL", "TRANSPORTS"}, strings.Fields(lines[0]))
	s.Equal([]string{"Shearwater", "Perdix", "0x000A0000", "0x5", "Serial|BLE"}, strings.Fields(lines[2]))
}

func (s *ProductsTestSuite) TestProducts_Filters() {
	stdout, _, err := s.ExecuteCommand("products", "--transport", "ble", "--vendor", "shearwater", "-f", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(stdout, `[
	  {"vendor": "Shearwater", "name": "Perdix", "model": 5, "transports": "Serial|BLE"}
	]`)
}

func (s *ProductsTestSuite) TestProducts_NoMatchIsEmptyJSON() {
	stdout, _, err := s.ExecuteCommand("products", "--vendor", "Acme", "-f", "json")
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(stdout, `[]`)
}

func (s *ProductsTestSuite) TestProducts_EngineWithoutTable() {
	s.Engine = &testutils.FakeEngine{}

	_, _, err := s.ExecuteCommand("products")
	s.ErrorIs(err, errNoEngine)
}

func (s *ProductsTestSuite) TestProducts_WithoutEngine() {
	s.WithoutEngine()

	_, _, err := s.ExecuteCommand("products")
	s.ErrorIs(err, errNoEngine)
}
