package metric

import "github.com/sells-group/precinct-map/internal/classify"

// ACS 2022 5-year profile variable labels.
const (
	VarRenter            = "Percent!!HOUSING TENURE!!Occupied housing units!!Renter-occupied"
	VarUnemployment      = "Percent!!EMPLOYMENT STATUS!!Civilian labor force!!Unemployment Rate"
	VarWorkFromHome      = "Percent!!COMMUTING TO WORK!!Workers 16 years and over!!Worked from home"
	VarGovernmentWorkers = "Percent!!CLASS OF WORKER!!Civilian employed population 16 years and over!!Government workers"
	VarSelfEmployed      = "Percent!!CLASS OF WORKER!!Civilian employed population 16 years and over!!Self-employed in own not incorporated business workers"
	VarProfessionalJobs  = "Percent!!INDUSTRY!!Civilian employed population 16 years and over!!Professional, scientific, and management, and administrative and waste management services"
	VarDriveAlone        = "Percent!!COMMUTING TO WORK!!Workers 16 years and over!!Car, truck, or van -- drove alone"
	VarPublicTransit     = "Percent!!COMMUTING TO WORK!!Workers 16 years and over!!Public transportation (excluding taxicab)"
	VarCommuteTime       = "Estimate!!COMMUTING TO WORK!!Workers 16 years and over!!Mean travel time to work (minutes)"
	VarMedianIncome      = "Estimate!!INCOME AND BENEFITS (IN 2022 INFLATION-ADJUSTED DOLLARS)!!Total households!!Median household income (dollars)"
	VarPerCapitaIncome   = "Estimate!!INCOME AND BENEFITS (IN 2022 INFLATION-ADJUSTED DOLLARS)!!Per capita income (dollars)"
	VarHighIncome        = "Percent!!INCOME AND BENEFITS (IN 2022 INFLATION-ADJUSTED DOLLARS)!!Total households!!$100,000 to $149,999"
	VarFoodStamps        = "Percent!!INCOME AND BENEFITS (IN 2022 INFLATION-ADJUSTED DOLLARS)!!Total households!!With Food Stamp/SNAP benefits in the past 12 months"
	VarHighSchoolPlus    = "Percent!!EDUCATIONAL ATTAINMENT!!Population 25 years and over!!High school graduate or higher"
	VarBachelorsPlus     = "Percent!!EDUCATIONAL ATTAINMENT!!Population 25 years and over!!Bachelor's degree or higher"
	VarGraduateDegree    = "Percent!!EDUCATIONAL ATTAINMENT!!Population 25 years and over!!Graduate or professional degree"
	VarForeignBorn       = "Percent!!PLACE OF BIRTH!!Total population!!Foreign born"
	VarNonEnglish        = "Percent!!LANGUAGE SPOKEN AT HOME!!Population 5 years and over!!Language other than English"
	VarSpanish           = "Percent!!LANGUAGE SPOKEN AT HOME!!Population 5 years and over!!Spanish"
	VarUninsured         = "Percent!!HEALTH INSURANCE COVERAGE!!Civilian noninstitutionalized population!!No health insurance coverage"
	VarPublicInsurance   = "Percent!!HEALTH INSURANCE COVERAGE!!Civilian noninstitutionalized population!!With health insurance coverage!!With public coverage"
	VarDisability        = "Percent!!DISABILITY STATUS OF THE CIVILIAN NONINSTITUTIONALIZED POPULATION!!Total Civilian Noninstitutionalized Population!!With a disability"
	VarWithChildren      = "Percent!!HOUSEHOLDS BY TYPE!!Total households!!Married-couple household!!With children of the householder under 18 years"
	VarWithSeniors       = "Percent!!HOUSEHOLDS BY TYPE!!Total households!!Households with one or more people 65 years and over"
	VarLivingAlone       = "Percent!!HOUSEHOLDS BY TYPE!!Total households!!Male householder, no spouse/partner present!!Householder living alone"
	VarSameHouse         = "Percent!!RESIDENCE 1 YEAR AGO!!Population 1 year and over!!Same house"
	VarDifferentHouse    = "Percent!!RESIDENCE 1 YEAR AGO!!Population 1 year and over!!Different house (in the U.S. or abroad)"
	VarPoverty           = "Percent!!PERCENTAGE OF FAMILIES AND PEOPLE WHOSE INCOME IN THE PAST 12 MONTHS IS BELOW THE POVERTY LEVEL!!All people"
)

// Palettes shared by several metrics.
var (
	paletteYlOrRd  = []string{"#FFEDA0", "#FC4E2A", "#E31A1C", "#BD0026", "#800026"}
	paletteYlGn    = []string{"#FFFFCC", "#C2E699", "#78C679", "#31A354", "#006837"}
	paletteGreens  = []string{"#F7FCF5", "#C7E9C0", "#74C476", "#31A354", "#006D2C"}
	paletteGreensD = []string{"#F7FCF5", "#C7E9C0", "#74C476", "#238B45", "#005A32"}
	paletteOranges = []string{"#FFF5EB", "#FDBE85", "#FD8D3C", "#E6550D", "#A63603"}
	paletteGrays   = []string{"#F7F7F7", "#CCCCCC", "#969696", "#636363", "#252525"}
	paletteBuGn    = []string{"#EDF8FB", "#B2E2E2", "#66C2A4", "#2CA25F", "#006D2C"}
	paletteOrRd    = []string{"#FFF5F0", "#FDD0A2", "#FD8D3C", "#D94801", "#8C2D04"}
	palettePuRd    = []string{"#F7F4F9", "#D4B9DA", "#C994C7", "#DF65B0", "#DD1C77"}
	paletteYlGnL   = []string{"#FFFFE5", "#F7FCB9", "#D9F0A3", "#ADDD8E", "#78C679"}
	palettePuBu    = []string{"#F1EEF6", "#BDC9E1", "#74A9CF", "#2B8CBE", "#045A8D"}
	paletteReds    = []string{"#FEE5D9", "#FCAE91", "#FB6A4A", "#DE2D26", "#A50F15"}
	paletteBlues   = []string{"#EFF3FF", "#BDD7E7", "#6BAED6", "#3182BD", "#08519C"}
)

// MedianIncomeBreaks are the static breaks of the median household income metric.
var MedianIncomeBreaks = []float64{40000, 60000, 80000, 100000, 120000, 140000}

// DefaultChunks lists the ACS variable groups in fetch order.
func DefaultChunks() []Chunk {
	return []Chunk{
		{Key: "Renter", Name: "Housing: Renter Status", Variables: []string{VarRenter}},
		{Key: "Employment", Name: "Employment & Work", Variables: []string{
			VarUnemployment, VarWorkFromHome, VarGovernmentWorkers, VarSelfEmployed,
			VarProfessionalJobs, VarDriveAlone, VarPublicTransit, VarCommuteTime,
		}},
		{Key: "Income", Name: "Income & Economic Status", Variables: []string{
			VarMedianIncome, VarPerCapitaIncome, VarHighIncome, VarFoodStamps,
		}},
		{Key: "Education", Name: "Educational Attainment", Variables: []string{
			VarHighSchoolPlus, VarBachelorsPlus, VarGraduateDegree,
		}},
		{Key: "Demographics", Name: "Demographics & Diversity", Variables: []string{
			VarForeignBorn, VarNonEnglish, VarSpanish,
		}},
		{Key: "HealthInsurance", Name: "Health Insurance Coverage", Variables: []string{
			VarUninsured, VarPublicInsurance,
		}},
		{Key: "Health", Name: "Health & Disability", Variables: []string{VarDisability}},
		{Key: "Family", Name: "Family & Household Structure", Variables: []string{
			VarWithChildren, VarWithSeniors, VarLivingAlone,
		}},
		{Key: "Mobility", Name: "Residential Mobility", Variables: []string{
			VarSameHouse, VarDifferentHouse,
		}},
		{Key: "Assistance", Name: "Public Assistance", Variables: []string{VarFoodStamps}},
		{Key: "Poverty", Name: "Poverty Status", Variables: []string{VarPoverty}},
	}
}

func pct(key, title, legend, variable, chunk string, palette []string) Metric {
	return Metric{
		Key:         key,
		Title:       title,
		LegendTitle: legend,
		Variable:    variable,
		Unit:        "%",
		Type:        classify.TypePercent,
		Chunk:       chunk,
		Palette:     palette,
	}
}

// DefaultMetrics lists the built-in metrics in display order.
func DefaultMetrics() []Metric {
	return []Metric{
		pct("renter", "Renter Demographics", "Renter Percentage", VarRenter, "Renter", paletteYlOrRd),
		pct("poverty", "Poverty Demographics", "Poverty Level (%)", VarPoverty, "Poverty", paletteYlOrRd),
		{
			Key: "income", Title: "Household Income", LegendTitle: "Median Income ($)",
			Variable: VarMedianIncome, Unit: "$", Type: classify.TypeCurrency, Chunk: "Income",
			Palette: paletteYlGn, FixedBreaks: MedianIncomeBreaks,
		},
		{
			Key: "per_capita_income", Title: "Per Capita Income", LegendTitle: "Per Capita Income ($)",
			Variable: VarPerCapitaIncome, Unit: "$", Type: classify.TypeCurrency, Chunk: "Income",
			Palette: paletteYlGn,
		},
		pct("high_income", "High Income Households", "Income $100k+ (%)", VarHighIncome, "Income", paletteGreens),

		pct("unemployment", "Unemployment Rate", "Unemployment Rate (%)", VarUnemployment, "Employment", paletteOranges),
		pct("self_employed", "Self-Employed Workers", "Self-Employed (%)", VarSelfEmployed, "Employment", paletteGrays),
		pct("government_workers", "Government Workers", "Government Workers (%)", VarGovernmentWorkers, "Employment", paletteBuGn),
		pct("professional_jobs", "Professional/Management Jobs", "Professional Jobs (%)", VarProfessionalJobs, "Employment", paletteGreensD),
		pct("work_from_home", "Work from Home", "Work from Home (%)", VarWorkFromHome, "Employment", paletteOrRd),

		pct("bachelors_plus", "Higher Education", "Bachelor's Degree+ (%)", VarBachelorsPlus, "Education", paletteGreensD),
		pct("graduate_degree", "Graduate/Professional Degree", "Graduate Degree (%)", VarGraduateDegree, "Education", paletteGreensD),
		pct("high_school_plus", "High School Education", "High School+ (%)", VarHighSchoolPlus, "Education", paletteOrRd),

		pct("foreign_born", "Foreign-Born Population", "Foreign-Born (%)", VarForeignBorn, "Demographics", palettePuRd),
		pct("non_english", "Non-English Speaking", "Language Other Than English (%)", VarNonEnglish, "Demographics", palettePuRd),
		pct("spanish_speaking", "Spanish Speaking", "Spanish Speaking (%)", VarSpanish, "Demographics", paletteYlGnL),

		pct("uninsured", "No Health Insurance", "Uninsured (%)", VarUninsured, "HealthInsurance", palettePuBu),
		pct("public_insurance", "Public Health Insurance", "Public Insurance (%)", VarPublicInsurance, "HealthInsurance", paletteOrRd),
		pct("disability", "Population with Disabilities", "Disability Rate (%)", VarDisability, "Health", paletteGrays),
		pct("food_stamps", "Food Assistance (SNAP)", "SNAP Benefits (%)", VarFoodStamps, "Assistance", paletteYlOrRd),

		pct("households_children", "Families with Children", "Married Couples with Children <18 (%)", VarWithChildren, "Family", paletteGreensD),
		pct("households_seniors", "Households with Seniors", "Households with 65+ (%)", VarWithSeniors, "Family", palettePuRd),
		pct("single_person", "Single-Person Households", "Living Alone (Male) (%)", VarLivingAlone, "Family", paletteGrays),
		pct("housing_stability", "Housing Stability", "Same House 1 Year Ago (%)", VarSameHouse, "Mobility", paletteGreensD),
		pct("residential_mobility", "Residential Mobility", "Moved in Past Year (%)", VarDifferentHouse, "Mobility", paletteOrRd),

		pct("commute_drive_alone", "Drive Alone to Work", "Drive Alone (%)", VarDriveAlone, "Employment", paletteReds),
		pct("public_transit", "Public Transportation", "Public Transit (%)", VarPublicTransit, "Employment", paletteBlues),
		{
			Key: "commute_time", Title: "Mean Travel Time", LegendTitle: "Mean Travel Time (min)",
			Variable: VarCommuteTime, Unit: " min", Type: classify.TypeNumber, Chunk: "Employment",
			Palette: paletteBlues,
		},
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	return MustNew(DefaultChunks(), DefaultMetrics())
}

// InfoMetrics are the metrics always shown in a precinct summary.
var InfoMetrics = []string{"renter", "poverty", "unemployment", "income"}
