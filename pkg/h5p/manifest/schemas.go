package manifest

var (
	machineName = Match(`^[\w0-9\-\.]{1,255}$`)
	version     = Match(`^[0-9]{1,5}$`)
	dimension   = Match(`^[0-9]{1,4}$`)
	oneOrZero   = Match(`^(0|1)$`)

	dependency = Nested{
		{Name: "machineName", Rule: machineName},
		{Name: "majorVersion", Rule: version},
		{Name: "minorVersion", Rule: version},
	}

	license = Match(`^(cc-by|cc-by-sa|cc-by-nd|cc-by-nc|cc-by-nc-sa|cc-by-nc-nd|pd|cr|MIT|GPL1|GPL2|GPL3|MPL|MPL2|U|CC BY|CC BY-SA|CC BY-ND|CC BY-NC|CC BY-NC-SA|CC BY-NC-ND|CC0 1\.0|GNU GPL|PD|ODC PDDL|CC PDM|C)$`)
)

// PackageRequired are the required h5p.json properties.
var PackageRequired = Schema{
	{Name: "title", Rule: Match(`^.{1,255}$`)},
	{Name: "language", Rule: Match(`^[a-z]{1,5}$`)},
	{Name: "preloadedDependencies", Rule: dependency},
	{Name: "mainLibrary", Rule: Match(`(?i)^[$a-z_][0-9a-z_\.$]{1,254}$`)},
	{Name: "embedTypes", Rule: Enum{"iframe", "div"}},
}

// PackageOptional are the optional h5p.json properties.
var PackageOptional = Schema{
	{Name: "contentType", Rule: Match(`^.{1,255}$`)},
	{Name: "author", Rule: Match(`^.{1,255}$`)},
	{Name: "license", Rule: license},
	{Name: "dynamicDependencies", Rule: dependency},
	{Name: "w", Rule: dimension},
	{Name: "n", Rule: dimension},
	{Name: "metaKeywords", Rule: Match(`^.{1,}$`)},
	{Name: "metaDescription", Rule: Match(`^.{1,}$`)},
}

// LibraryRequired are the required library.json properties.
var LibraryRequired = Schema{
	{Name: "title", Rule: Match(`^.{1,255}$`)},
	{Name: "majorVersion", Rule: version},
	{Name: "minorVersion", Rule: version},
	{Name: "patchVersion", Rule: version},
	{Name: "machineName", Rule: machineName},
	{Name: "runnable", Rule: oneOrZero},
}

// LibraryOptional are the optional library.json properties.
var LibraryOptional = Schema{
	{Name: "author", Rule: Match(`^.{1,255}$`)},
	{Name: "license", Rule: license},
	{Name: "description", Rule: Match(`^.{1,}$`)},
	{Name: "dynamicDependencies", Rule: dependency},
	{Name: "preloadedDependencies", Rule: dependency},
	{Name: "editorDependencies", Rule: dependency},
	{Name: "preloadedJs", Rule: Nested{{Name: "path", Rule: Match(`(?i)^((\/)?[a-z_\-\s0-9\.]+)+\.js$`)}}},
	{Name: "preloadedCss", Rule: Nested{{Name: "path", Rule: Match(`(?i)^((\/)?[a-z_\-\s0-9\.]+)+\.css$`)}}},
	{Name: "dropLibraryCss", Rule: Nested{{Name: "machineName", Rule: machineName}}},
	{Name: "w", Rule: dimension},
	{Name: "h", Rule: dimension},
	{Name: "embedTypes", Rule: Enum{"iframe", "div"}},
	{Name: "fullscreen", Rule: oneOrZero},
	{Name: "coreApi", Rule: Nested{
		{Name: "majorVersion", Rule: version},
		{Name: "minorVersion", Rule: version},
	}},
}
