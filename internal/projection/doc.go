// Package projection maps fields of a snapshot.Snapshot to the values a
// home-automation host displays: binary flags, sensor readings and firmware
// update indicators, each with its unit, icon and category.
//
// Projections hold no state. A Descriptor describes one observable attribute
// of one device kind; an Entity pairs a Descriptor with a device ID and a
// Source, and re-reads the Source's current snapshot every time its state
// is requested. Nothing is cached, so an Entity always reflects the most
// recently accepted snapshot.
//
// Catalogue lists every Descriptor. Build expands it against the current
// snapshot into one Entity per attribute per device.
package projection
