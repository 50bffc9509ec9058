// Package projections folds event streams into state. A Query runs once in
// memory; a Projector persists its stream positions and state in the
// projections table, coordinates with other processes through a lock row
// and obeys status changes written by a Manager. Daemon runs several
// projectors side by side.
package projections
