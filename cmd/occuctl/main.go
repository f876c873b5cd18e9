// Command occuctl administers an NCO index: it runs queries against it,
// edits it, and publishes catalog change events for running searchers.
//
// Every command except publish opens the index directly and needs the data
// directory to itself; stop the searcher first or point --config at a copy.
package main

func main() {
	Execute()
}
