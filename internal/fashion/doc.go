// Package fashion is the demo domain plugged into the pump and the
// search coordinator.
//
// Business data is a markup Catalog folded from MarkupUpdate values.
// Providers hold an Inventory of priced items; a search asks for one
// product type in one size and the coordinator marks prices up by the
// catalog's markup for that type, keeping the cheapest offer per item ID.
package fashion
