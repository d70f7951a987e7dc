// Package launch drives an editor instance into existence when discovery
// finds none: fix project configuration, start the editor detached, and
// poll discovery until the instance answers or a deadline passes.
//
// Ownership boundary:
// - launch phase state machine and its observable status
// - detached process spawning
//
// Launch never owns the discovery socket; it borrows a Discoverer.
package launch
