package shipment

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/storelink/dpdbridge/pkg/dpdconnect"
)

// Carrier weight handling. Weights travel in integer units of 10 g
// (11.0 kg = 1100 units); a parcel may not exceed 31.5 kg.
const (
	weightUnitsPerKG   = 100
	maxParcelWeight    = 31.5 * weightUnitsPerKG
	fallbackLineWeight = 5.0 // kg, applied when a line has no usable weight

	descriptionLimit       = 35 // customs line description
	parcelDescriptionLimit = 30 // fresh/freeze goods description
)

// Carrier product codes.
const (
	productCodeClassic = "CL"
	productCodeReturn  = "RETURN"
	productCodeFresh   = "FRESH"
	productCodeFreeze  = "FREEZE"
)

// SenderConfig is the configured shop identity used on every shipment.
type SenderConfig struct {
	Depot      string
	Company    string
	Street     string
	Country    string
	PostalCode string
	City       string
	Phone      string
	Email      string
	VATNumber  string
	EORINumber string
	SPRN       string
}

// CustomsConfig steers the three-tier customs attribute resolution.
type CustomsConfig struct {
	HSCodeFeature        string
	OriginCountryFeature string
	CustomsValueFeature  string
	AgeCheckFeature      string

	DefaultHSCode        string
	DefaultOriginCountry string
	DefaultAgeCheck      string
	DefaultLineWeight    int // carrier units, used when a product weighs 0
}

// Builder assembles carrier shipment payloads from order groups. All
// configuration is injected at construction; the builder performs no
// global reads.
type Builder struct {
	sender    SenderConfig
	customs   CustomsConfig
	products  ProductSource
	resolver  *Resolver
	countries CountryChecker
}

// NewBuilder creates a shipment builder.
func NewBuilder(sender SenderConfig, customs CustomsConfig, products ProductSource, countries CountryChecker) *Builder {
	if customs.DefaultOriginCountry == "" {
		customs.DefaultOriginCountry = sender.Country
	}
	return &Builder{
		sender:    sender,
		customs:   customs,
		products:  products,
		resolver:  NewResolver(products),
		countries: countries,
	}
}

// Build turns one order group into a carrier shipment.
//
// Hard failures return an error: a multi-parcel request for a destination
// outside the single market returns ErrMultiParcelNotAllowed with no
// partial shipment, and infrastructure failures propagate. Soft per-order
// problems (cancelled order, missing delivery address, overweight parcel)
// come back as issues; a nil shipment with issues means the order is
// suppressed from submission and the caller records the issues.
func (b *Builder) Build(ctx context.Context, order *Order, group Group, parcelCount int, isReturn bool, extras Extras) (*dpdconnect.Shipment, []Issue, error) {
	if parcelCount < 1 {
		parcelCount = 1
	}

	if order == nil {
		return nil, []Issue{{OrderID: group.OrderID, Kind: IssueNotFound, Message: "order does not exist"}}, nil
	}
	if order.Delivery == nil {
		return nil, []Issue{{OrderID: order.ID, Kind: IssueNotFound, Message: "order has no delivery address"}}, nil
	}
	if order.Status == StatusCancelled {
		return nil, []Issue{{OrderID: order.ID, Kind: IssueCancelled, Message: "order is cancelled"}}, nil
	}

	address := *order.Delivery

	if parcelCount > 1 {
		singleMarket, err := b.countries.SingleMarket(ctx, address.CountryISO)
		if err != nil {
			return nil, nil, fmt.Errorf("checking single market for %s: %w", address.CountryISO, err)
		}
		if !singleMarket {
			return nil, nil, ErrMultiParcelNotAllowed
		}
	}

	var issues []Issue

	totalWeight := totalWeightUnits(group.Lines)
	if ceilDiv(totalWeight, parcelCount) > maxParcelWeight {
		issues = append(issues, Issue{
			OrderID: order.ID,
			Kind:    IssueValidation,
			Message: "parcel weight exceeds the 31.5 kg carrier limit",
		})
	}

	saturday := order.Routing.Saturday && !isReturn

	sh := &dpdconnect.Shipment{
		OrderID:      strconv.Itoa(order.ID),
		SendingDepot: b.sender.Depot,
		Sender: dpdconnect.Party{
			Name:              b.sender.Company,
			Street:            b.sender.Street,
			Country:           b.sender.Country,
			PostalCode:        b.sender.PostalCode,
			City:              b.sender.City,
			Phone:             b.sender.Phone,
			Email:             b.sender.Email,
			CommercialAddress: true,
			VATNumber:         b.sender.VATNumber,
			EORINumber:        b.sender.EORINumber,
		},
		Receiver: dpdconnect.Party{
			Name:              address.FullName(),
			Street:            address.Street(),
			Country:           strings.ToUpper(address.CountryISO),
			PostalCode:        address.PostalCode,
			City:              address.City,
			Phone:             address.ContactPhone(),
			Email:             order.Customer.Email,
			CommercialAddress: false,
		},
		Product: dpdconnect.ProductInfo{
			ProductCode:      productCode(group.SubType, isReturn),
			SaturdayDelivery: saturday,
			HomeDelivery:     order.Routing.Predict || order.Routing.Saturday,
		},
	}

	ageCheck, err := b.anyLineNeedsAgeCheck(ctx, order.Lines)
	if err != nil {
		return nil, nil, err
	}
	sh.Product.AgeCheck = ageCheck

	if order.Routing.Predict || order.Routing.Saturday {
		sh.Notifications = append(sh.Notifications, dpdconnect.Notification{
			Subject: "predict",
			Channel: "EMAIL",
			Value:   order.Customer.Email,
		})
	}

	if !group.SubType.TemperatureControlled() && order.Routing.ParcelShopID != "" {
		sh.Product.ParcelShopID = order.Routing.ParcelShopID
		sh.Notifications = append(sh.Notifications, dpdconnect.Notification{
			Subject: "parcelshop",
			Channel: "EMAIL",
			Value:   order.Customer.Email,
		})
	}

	sh.Parcels = b.buildParcels(order.ID, group, parcelCount, isReturn, totalWeight, extras)

	customs, err := b.buildCustoms(ctx, order, group, address)
	if err != nil {
		return nil, nil, err
	}
	sh.Customs = customs

	return sh, issues, nil
}

// buildParcels constructs the parcel list for one shipment.
//
// Fresh/freeze outbound: one parcel per unique SKU, repeated parcelCount
// times, carrying the expiration date and goods description. Fresh/freeze
// returns: one parcel per unique SKU regardless of the requested count.
// Everything else: the total weight split evenly across parcelCount.
func (b *Builder) buildParcels(orderID int, group Group, parcelCount int, isReturn bool, totalWeight int, extras Extras) []dpdconnect.Parcel {
	orderRef := strconv.Itoa(orderID)

	if group.SubType.TemperatureControlled() && !isReturn {
		weight := ceilDiv(totalWeight, parcelCount)
		var parcels []dpdconnect.Parcel

		seen := make(map[string]bool, len(group.Lines))
		for _, line := range group.Lines {
			if seen[line.Reference] {
				continue
			}
			seen[line.Reference] = true

			info := extras.Lookup(orderID, line.ProductID)
			for i := 0; i < parcelCount; i++ {
				parcels = append(parcels, dpdconnect.Parcel{
					CustomerReferences:  []string{orderRef, line.Reference},
					Weight:              weight,
					GoodsExpirationDate: expirationDateInt(info.ExpirationDate),
					GoodsDescription:    truncate(info.CarrierDescription, parcelDescriptionLimit),
				})
			}
		}
		return parcels
	}

	count := parcelCount
	if isReturn && group.SubType.TemperatureControlled() {
		count = len(UniqueSKUs(group.Lines))
	}

	weight := ceilDiv(totalWeight, count)
	parcels := make([]dpdconnect.Parcel, 0, count)
	for i := 0; i < count; i++ {
		parcels = append(parcels, dpdconnect.Parcel{
			CustomerReferences: []string{orderRef},
			Weight:             weight,
			Returns:            isReturn,
		})
	}
	return parcels
}

// buildCustoms assembles the customs declaration block, resolving each
// line's HS code, origin country and declared value through the
// three-tier fallback.
func (b *Builder) buildCustoms(ctx context.Context, order *Order, group Group, address Address) (*dpdconnect.Customs, error) {
	customs := &dpdconnect.Customs{
		Terms:         "DAP",
		TotalCurrency: order.CurrencyISO,
	}

	var totalAmount float64
	lines := make([]dpdconnect.CustomsLine, 0, len(group.Lines))

	for _, line := range group.Lines {
		product, err := b.products.Product(ctx, line.ProductID)
		if err != nil {
			return nil, fmt.Errorf("loading product %d: %w", line.ProductID, err)
		}

		hsCode, err := b.resolver.Resolve(ctx, product, b.customs.HSCodeFeature, OverrideHSCode, b.customs.DefaultHSCode)
		if err != nil {
			return nil, err
		}
		origin, err := b.resolver.Resolve(ctx, product, b.customs.OriginCountryFeature, OverrideOriginCountry, b.customs.DefaultOriginCountry)
		if err != nil {
			return nil, err
		}
		value, err := b.resolver.ResolveValue(ctx, product, b.customs.CustomsValueFeature)
		if err != nil {
			return nil, err
		}

		weight := int(math.Ceil(product.WeightKG)) * weightUnitsPerKG
		if weight == 0 {
			weight = b.customs.DefaultLineWeight
		}

		amount := value * float64(line.Quantity)
		totalAmount += amount

		lines = append(lines, dpdconnect.CustomsLine{
			Description:          truncate(line.Name, descriptionLimit),
			HarmonizedSystemCode: hsCode,
			OriginCountry:        origin,
			Quantity:             line.Quantity,
			NetWeight:            weight,
			GrossWeight:          weight,
			TotalAmount:          amount,
		})
	}

	customs.TotalAmount = totalAmount
	customs.Lines = lines
	customs.Consignor = dpdconnect.Party{
		Name:              b.sender.Company,
		Street:            b.sender.Street,
		PostalCode:        b.sender.PostalCode,
		City:              b.sender.City,
		Country:           b.sender.Country,
		CommercialAddress: true,
		SPRN:              b.sender.SPRN,
		VATNumber:         b.sender.VATNumber,
		EORINumber:        b.sender.EORINumber,
	}
	customs.Consignee = dpdconnect.Party{
		Name:              address.FullName(),
		Street:            address.Street(),
		PostalCode:        address.PostalCode,
		City:              address.City,
		Country:           strings.ToUpper(address.CountryISO),
		CommercialAddress: false,
		SPRN:              b.sender.SPRN,
	}

	return customs, nil
}

// anyLineNeedsAgeCheck reports whether any product on the order resolves
// to an age-checked delivery.
func (b *Builder) anyLineNeedsAgeCheck(ctx context.Context, lines []Line) (bool, error) {
	for _, line := range lines {
		product, err := b.products.Product(ctx, line.ProductID)
		if err != nil {
			return false, fmt.Errorf("loading product %d: %w", line.ProductID, err)
		}

		ageCheck, err := b.resolver.ResolveAgeCheck(ctx, product, b.customs.AgeCheckFeature, b.customs.DefaultAgeCheck)
		if err != nil {
			return false, err
		}
		if ageCheck {
			return true, nil
		}
	}
	return false, nil
}

func totalWeightUnits(lines []Line) int {
	var totalKG float64
	for _, line := range lines {
		weight := line.WeightKG
		if weight <= 0 {
			weight = fallbackLineWeight
		}
		totalKG += weight * float64(line.Quantity)
	}
	return int(math.Round(totalKG * weightUnitsPerKG))
}

func ceilDiv(value, parts int) int {
	if parts < 1 {
		parts = 1
	}
	return (value + parts - 1) / parts
}

func productCode(subType SubType, isReturn bool) string {
	if isReturn {
		return productCodeReturn
	}
	switch subType {
	case SubTypeFresh:
		return productCodeFresh
	case SubTypeFreeze:
		return productCodeFreeze
	default:
		return productCodeClassic
	}
}

// truncate cuts s to at most limit runes.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// expirationDateInt turns "2006-01-02" into the carrier's 20060102 form.
func expirationDateInt(date string) int {
	compact := strings.ReplaceAll(date, "-", "")
	value, err := strconv.Atoi(compact)
	if err != nil {
		return 0
	}
	return value
}
