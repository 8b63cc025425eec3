// Package engine assembles the storage core (page store, write-ahead log,
// lock table, buffer pool, transaction manager, checkpoint manager, and
// recovery) into a single Database.
//
// A typical session:
//
//	opts := storage.DefaultEngineOptions().WithDataDir("/var/txcore/mydb")
//	db, err := engine.Open(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Recover(); err != nil {
//	    log.Fatal(err)
//	}
//
//	txid, err := db.Begin()
//	id, err := db.InsertTuple(txid, tableID, []byte("row"))
//	err = db.Commit(txid)
//
// Recover must run before the first transaction begins against a data
// directory that was not closed cleanly (Close always runs cleanly;
// recovering from an unclean shutdown is what Recover is for). Calling
// it against a cleanly closed directory is harmless, since every Update
// record it would redo is already reflected on disk.
//
// GetPage is the one operation every other mutation goes through:
// InsertTuple and DeleteTuple both call it internally for the pages
// they touch, and a caller that wants lower-level access (building its
// own index or scan) can call it directly. Every page handle it returns
// is already locked in the requested mode on behalf of the calling
// transaction; MarkDirty tags a page as changed once the caller has
// written into it.
package engine
